package reveal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mkoval/sortroom/internal/channel"
	"github.com/mkoval/sortroom/internal/models"
	"github.com/mkoval/sortroom/internal/registry"
	"github.com/mkoval/sortroom/internal/session"
	"github.com/mkoval/sortroom/internal/transport"
)

type revealFixture struct {
	sessions *session.Coordinator
	channel  *channel.RoomChannel
	clock    *clockwork.FakeClock
}

func newRevealFixture(t *testing.T) *revealFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	tr := transport.NewMemoryTransport()
	channels := channel.NewManager(tr, channel.WithClock(clock))
	t.Cleanup(channels.CloseAll)
	reg := registry.NewWithClock(registry.DefaultConfig(), clock)
	sessions := session.NewCoordinatorWithClock(reg, channels, tr, clock)

	ch, err := channels.Channel("ABC123")
	if err != nil {
		t.Fatalf("Channel() error = %v", err)
	}
	return &revealFixture{sessions: sessions, channel: ch, clock: clock}
}

func (f *revealFixture) join(t *testing.T, name, clientID string) *models.Participant {
	t.Helper()
	_, participant, err := f.sessions.JoinOrCreateSession(context.Background(), "ABC123", name, clientID, models.DefaultSessionConfig())
	if err != nil {
		t.Fatalf("join %s error = %v", name, err)
	}
	return participant
}

func (f *revealFixture) coordinator(t *testing.T, participantID string) *Coordinator {
	t.Helper()
	c, err := NewCoordinatorWithClock("ABC123", participantID, f.sessions, f.channel, f.clock)
	if err != nil {
		t.Fatalf("NewCoordinatorWithClock() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func cards(n int) []models.CardPlacement {
	out := make([]models.CardPlacement, n)
	for i := range out {
		out[i] = models.CardPlacement{CardID: fmt.Sprintf("card-%d", i), Pile: "selected", Position: i}
	}
	return out
}

func TestRevealRequiresExactPileSize(t *testing.T) {
	f := newRevealFixture(t)
	p := f.join(t, "Ada", "client-1")
	c := f.coordinator(t, p.ID)
	ctx := context.Background()

	if err := c.RevealSelection(ctx, models.RevealTop8, cards(7)); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("RevealSelection(7 cards) = %v, want ErrInvalidSelection", err)
	}
	if err := c.RevealSelection(ctx, models.RevealTop3, cards(8)); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("RevealSelection(top3, 8 cards) = %v, want ErrInvalidSelection", err)
	}
	if err := c.RevealSelection(ctx, "top5", cards(5)); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("RevealSelection(top5) = %v, want ErrInvalidSelection", err)
	}

	// The rejected transition left nothing behind.
	if state := c.Store().Get(p.ID, models.RevealTop8); state.State != StateHidden {
		t.Errorf("state after rejected reveal = %s, want HIDDEN", state.State)
	}
	sess, err := f.sessions.GetSession("ABC123")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.FindParticipant(p.ID).RevealedTop8 {
		t.Error("registry shows revealed after rejected transition")
	}
}

func TestRevealHideRoundTrip(t *testing.T) {
	f := newRevealFixture(t)
	p := f.join(t, "Ada", "client-1")
	c := f.coordinator(t, p.ID)
	ctx := context.Background()

	if err := c.RevealSelection(ctx, models.RevealTop8, cards(8)); err != nil {
		t.Fatalf("RevealSelection() error = %v", err)
	}

	state := c.Store().Get(p.ID, models.RevealTop8)
	if state.State != StateRevealed || len(state.Cards) != 8 {
		t.Fatalf("store state = %s with %d cards, want REVEALED with 8", state.State, len(state.Cards))
	}
	sess, err := f.sessions.GetSession("ABC123")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	stored := sess.FindParticipant(p.ID)
	if !stored.RevealedTop8 || stored.Status != models.StatusRevealed8 {
		t.Fatalf("registry reveal state = %v/%s, want true/REVEALED_8", stored.RevealedTop8, stored.Status)
	}

	revealed := c.GetRevealedParticipants()
	if len(revealed) != 1 || revealed[0].ParticipantID != p.ID {
		t.Fatalf("GetRevealedParticipants() = %+v, want [%s]", revealed, p.ID)
	}

	f.clock.Advance(time.Second)
	if err := c.UnrevealSelection(ctx, models.RevealTop8); err != nil {
		t.Fatalf("UnrevealSelection() error = %v", err)
	}
	if state := c.Store().Get(p.ID, models.RevealTop8); state.State != StateHidden {
		t.Fatalf("state after unreveal = %s, want HIDDEN", state.State)
	}
	sess, err = f.sessions.GetSession("ABC123")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.FindParticipant(p.ID).RevealedTop8 {
		t.Error("registry still revealed after unreveal")
	}
}

func TestArrangementOnlyWhileRevealed(t *testing.T) {
	f := newRevealFixture(t)
	p := f.join(t, "Ada", "client-1")
	c := f.coordinator(t, p.ID)
	ctx := context.Background()

	if err := c.UpdateArrangement(ctx, models.RevealTop8, cards(8)); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("UpdateArrangement() while hidden = %v, want ErrInvalidSelection", err)
	}

	if err := c.RevealSelection(ctx, models.RevealTop8, cards(8)); err != nil {
		t.Fatalf("RevealSelection() error = %v", err)
	}

	f.clock.Advance(time.Second)
	rearranged := cards(8)
	rearranged[0].Position = 7
	if err := c.UpdateArrangement(ctx, models.RevealTop8, rearranged); err != nil {
		t.Fatalf("UpdateArrangement() error = %v", err)
	}
	state := c.Store().Get(p.ID, models.RevealTop8)
	if state.Cards[0].Position != 7 {
		t.Errorf("store missed arrangement update: %+v", state.Cards[0])
	}
}

func TestViewersMirroredAcrossCoordinators(t *testing.T) {
	f := newRevealFixture(t)
	owner := f.join(t, "Owner", "client-1")
	viewer := f.join(t, "Viewer", "client-2")
	ownerCoord := f.coordinator(t, owner.ID)
	viewerCoord := f.coordinator(t, viewer.ID)
	ctx := context.Background()

	if err := ownerCoord.RevealSelection(ctx, models.RevealTop3, cards(3)); err != nil {
		t.Fatalf("RevealSelection() error = %v", err)
	}
	if err := viewerCoord.JoinViewer(ctx, owner.ID, models.RevealTop3); err != nil {
		t.Fatalf("JoinViewer() error = %v", err)
	}

	// Both read models converge from the same event stream.
	if got := ownerCoord.Store().ViewerCount(owner.ID, models.RevealTop3); got != 1 {
		t.Errorf("owner store viewer count = %d, want 1", got)
	}
	if got := viewerCoord.Store().ViewerCount(owner.ID, models.RevealTop3); got != 1 {
		t.Errorf("viewer store viewer count = %d, want 1", got)
	}

	if err := viewerCoord.LeaveViewer(ctx, owner.ID, models.RevealTop3); err != nil {
		t.Fatalf("LeaveViewer() error = %v", err)
	}
	if got := ownerCoord.Store().ViewerCount(owner.ID, models.RevealTop3); got != 0 {
		t.Errorf("owner store viewer count after leave = %d, want 0", got)
	}
}
