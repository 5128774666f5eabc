package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	tr := NewMemoryTransport()
	defer tr.Close()

	var got [][]byte
	unsubscribe, err := tr.Subscribe("ABC123", func(data []byte) {
		got = append(got, data)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := tr.Publish(context.Background(), "ABC123", []byte("one")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := tr.Publish(context.Background(), "DEF456", []byte("other room")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(got) != 1 || string(got[0]) != "one" {
		t.Fatalf("received %q, want exactly [one]", got)
	}

	unsubscribe()
	if err := tr.Publish(context.Background(), "ABC123", []byte("two")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("received %d messages after unsubscribe, want 1", len(got))
	}
}

func TestMemoryPresenceRoster(t *testing.T) {
	tr := NewMemoryTransport()
	defer tr.Close()

	ctx := context.Background()
	var seen []PresenceEvent
	if _, err := tr.SubscribePresence("ABC123", func(e PresenceEvent) {
		seen = append(seen, e)
	}); err != nil {
		t.Fatalf("SubscribePresence() error = %v", err)
	}

	alice := Member{ID: "alice", Data: json.RawMessage(`{"name":"Alice"}`)}
	if err := tr.EnterPresence(ctx, "ABC123", alice); err != nil {
		t.Fatalf("EnterPresence() error = %v", err)
	}
	members, err := tr.GetPresence(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetPresence() error = %v", err)
	}
	if len(members) != 1 || members[0].ID != "alice" {
		t.Fatalf("GetPresence() = %+v, want [alice]", members)
	}

	if err := tr.LeavePresence(ctx, "ABC123", "alice"); err != nil {
		t.Fatalf("LeavePresence() error = %v", err)
	}
	members, err = tr.GetPresence(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetPresence() error = %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("GetPresence() after leave = %+v, want empty", members)
	}

	if len(seen) != 2 {
		t.Fatalf("presence subscriber saw %d events, want 2", len(seen))
	}
	if seen[0].Action != PresenceEnter || seen[1].Action != PresenceLeave {
		t.Errorf("presence actions = %v, %v; want enter, leave", seen[0].Action, seen[1].Action)
	}
}

func TestMemoryCloseFailsFurtherOperations(t *testing.T) {
	tr := NewMemoryTransport()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := tr.Publish(context.Background(), "ABC123", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after close = %v, want ErrClosed", err)
	}
	if _, err := tr.Subscribe("ABC123", func([]byte) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after close = %v, want ErrClosed", err)
	}
	if _, err := tr.GetPresence(context.Background(), "ABC123"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetPresence() after close = %v, want ErrClosed", err)
	}
}
