package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/channel"
	"github.com/mkoval/sortroom/internal/models"
	"github.com/mkoval/sortroom/internal/presence"
	"github.com/mkoval/sortroom/internal/reveal"
	"github.com/mkoval/sortroom/internal/session"
	"github.com/mkoval/sortroom/internal/transport"
)

// Handler exposes the coordinator operations as a JSON API. Reveal mutations
// go through per-participant reveal coordinators, cached per (room,
// participant) and torn down when the participant leaves. Roster reads go
// through one presence projector per room.
type Handler struct {
	sessions  *session.Coordinator
	channels  *channel.Manager
	transport transport.Transport

	mu         sync.Mutex
	reveals    map[revealKey]*reveal.Coordinator
	projectors map[string]*presence.Projector
}

type revealKey struct {
	roomCode      string
	participantID string
}

// NewHandler creates the API handler over the session coordinator.
func NewHandler(sessions *session.Coordinator, channels *channel.Manager, tr transport.Transport) *Handler {
	return &Handler{
		sessions:   sessions,
		channels:   channels,
		transport:  tr,
		reveals:    make(map[revealKey]*reveal.Coordinator),
		projectors: make(map[string]*presence.Projector),
	}
}

type createRoomRequest struct {
	MaxParticipants int `json:"max_participants"`
	TimeoutMinutes  int `json:"timeout_minutes"`
}

type joinRoomRequest struct {
	RoomCode        string `json:"room_code"`
	Name            string `json:"name"`
	ClientID        string `json:"client_id"`
	MaxParticipants int    `json:"max_participants"`
	TimeoutMinutes  int    `json:"timeout_minutes"`
}

type joinRoomResponse struct {
	Session     *models.Session     `json:"session"`
	Participant *models.Participant `json:"participant"`
}

type leaveRoomRequest struct {
	ParticipantID string `json:"participant_id"`
}

type activityRequest struct {
	ParticipantID string `json:"participant_id"`
	Step          *int   `json:"step,omitempty"`
}

type revealRequest struct {
	ParticipantID string                 `json:"participant_id"`
	RevealType    models.RevealType      `json:"reveal_type"`
	Action        string                 `json:"action"` // reveal, hide, arrange
	Cards         []models.CardPlacement `json:"cards,omitempty"`
}

type viewerRequest struct {
	ParticipantID       string            `json:"participant_id"`
	TargetParticipantID string            `json:"target_participant_id"`
	RevealType          models.RevealType `json:"reveal_type"`
	Action              string            `json:"action"` // join, leave
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleCreateRoom handles POST /api/rooms
func (h *Handler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), models.SessionConfig{
		MaxParticipants: req.MaxParticipants,
		TimeoutMinutes:  req.TimeoutMinutes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// HandleJoinRoom handles POST /api/rooms/join: join the room, creating it
// first when it does not exist yet.
func (h *Handler) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req joinRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "client_id is required")
		return
	}

	sess, participant, err := h.sessions.JoinOrCreateSession(r.Context(), req.RoomCode, req.Name, req.ClientID, models.SessionConfig{
		MaxParticipants: req.MaxParticipants,
		TimeoutMinutes:  req.TimeoutMinutes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinRoomResponse{Session: sess, Participant: participant})
}

// RegisterRoutes registers the room API routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", h.HandleCreateRoom)
	mux.HandleFunc("/api/rooms/join", h.HandleJoinRoom)
	mux.HandleFunc("/api/rooms/", h.handleRoomSubroute)
}

// handleRoomSubroute dispatches /api/rooms/{code}/{action}.
func (h *Handler) handleRoomSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.SplitN(rest, "/", 2)
	code := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	if code == "" {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "", "state":
		h.handleGetRoom(w, r, code)
	case "leave":
		h.handleLeaveRoom(w, r, code)
	case "activity":
		h.handleActivity(w, r, code)
	case "reveal":
		h.handleReveal(w, r, code)
	case "reveals":
		h.handleGetReveals(w, r, code)
	case "roster":
		h.handleGetRoster(w, r, code)
	case "viewers":
		h.handleViewers(w, r, code)
	default:
		http.NotFound(w, r)
	}
}

// handleGetRoom handles GET /api/rooms/{code}
func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := h.sessions.GetSession(code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleLeaveRoom handles POST /api/rooms/{code}/leave
func (h *Handler) handleLeaveRoom(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req leaveRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := h.sessions.LeaveSession(r.Context(), code, req.ParticipantID); err != nil {
		writeDomainError(w, err)
		return
	}
	h.dropRevealCoordinator(code, req.ParticipantID)
	// The last leaver takes the room with them; drop the room-scoped caches.
	if _, err := h.sessions.GetSession(code); err != nil {
		h.CloseRoom(code)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleActivity handles POST /api/rooms/{code}/activity
func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req activityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := h.sessions.UpdateParticipantActivity(r.Context(), code, req.ParticipantID, req.Step); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReveal handles POST /api/rooms/{code}/reveal
func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req revealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	rc, err := h.revealCoordinator(code, req.ParticipantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch req.Action {
	case "reveal":
		err = rc.RevealSelection(r.Context(), req.RevealType, req.Cards)
	case "hide":
		err = rc.UnrevealSelection(r.Context(), req.RevealType)
	case "arrange":
		err = rc.UpdateArrangement(r.Context(), req.RevealType, req.Cards)
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "action must be reveal, hide or arrange")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReveals handles GET /api/rooms/{code}/reveals. The revealed flags
// and arrangements come from the session snapshot, the registry being the
// durable record; a read model bound after a reveal never saw the broadcast,
// so it only supplements the viewer lists.
func (h *Handler) handleGetReveals(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := h.sessions.GetSession(code)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	store := h.anyRevealStore(code)
	revealed := make([]reveal.RevealState, 0)
	for _, p := range sess.Participants {
		for _, rt := range []models.RevealType{models.RevealTop8, models.RevealTop3} {
			if !p.Revealed(rt) {
				continue
			}
			state := reveal.RevealState{
				ParticipantID: p.ID,
				RevealType:    rt,
				State:         reveal.StateRevealed,
				Cards:         p.RevealedCards(rt),
				LastUpdated:   p.LastActivity,
				Viewers:       []string{},
			}
			if store != nil {
				state.Viewers = store.Get(p.ID, rt).Viewers
			}
			revealed = append(revealed, state)
		}
	}
	sort.Slice(revealed, func(i, j int) bool {
		if revealed[i].ParticipantID != revealed[j].ParticipantID {
			return revealed[i].ParticipantID < revealed[j].ParticipantID
		}
		return revealed[i].RevealType < revealed[j].RevealType
	})
	writeJSON(w, http.StatusOK, revealed)
}

// handleGetRoster handles GET /api/rooms/{code}/roster
func (h *Handler) handleGetRoster(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := h.sessions.GetSession(code); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := h.projector(r, code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Roster())
}

// handleViewers handles POST /api/rooms/{code}/viewers
func (h *Handler) handleViewers(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req viewerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	rc, err := h.revealCoordinator(code, req.ParticipantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch req.Action {
	case "join":
		err = rc.JoinViewer(r.Context(), req.TargetParticipantID, req.RevealType)
	case "leave":
		err = rc.LeaveViewer(r.Context(), req.TargetParticipantID, req.RevealType)
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "action must be join or leave")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseRoom tears down the reveal coordinators and projector of a room.
func (h *Handler) CloseRoom(code string) {
	h.mu.Lock()
	var closing []*reveal.Coordinator
	for key, rc := range h.reveals {
		if key.roomCode == code {
			closing = append(closing, rc)
			delete(h.reveals, key)
		}
	}
	projector := h.projectors[code]
	delete(h.projectors, code)
	h.mu.Unlock()

	for _, rc := range closing {
		rc.Close()
	}
	if projector != nil {
		projector.Close()
	}
}

func (h *Handler) projector(r *http.Request, code string) (*presence.Projector, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.projectors[code]; ok {
		return p, nil
	}
	ch, err := h.channels.Channel(code)
	if err != nil {
		return nil, err
	}
	p, err := presence.NewProjector(r.Context(), code, ch, h.transport)
	if err != nil {
		return nil, err
	}
	h.projectors[code] = p
	return p, nil
}

func (h *Handler) revealCoordinator(code, participantID string) (*reveal.Coordinator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := revealKey{roomCode: code, participantID: participantID}
	if rc, ok := h.reveals[key]; ok {
		return rc, nil
	}
	ch, err := h.channels.Channel(code)
	if err != nil {
		return nil, err
	}
	rc, err := reveal.NewCoordinator(code, participantID, h.sessions, ch)
	if err != nil {
		return nil, err
	}
	h.reveals[key] = rc
	return rc, nil
}

func (h *Handler) dropRevealCoordinator(code, participantID string) {
	h.mu.Lock()
	rc, ok := h.reveals[revealKey{roomCode: code, participantID: participantID}]
	if ok {
		delete(h.reveals, revealKey{roomCode: code, participantID: participantID})
	}
	h.mu.Unlock()
	if ok {
		rc.Close()
	}
}

// anyRevealStore returns a reveal read model for the room, if any participant
// of the room has one bound.
func (h *Handler) anyRevealStore(code string) *reveal.StateStore {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, rc := range h.reveals {
		if key.roomCode == code {
			return rc.Store()
		}
	}
	return nil
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError maps coordinator failures onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, reveal.ErrInvalidSelection) {
		writeError(w, http.StatusBadRequest, string(session.ErrCodeInvalidReveal), err.Error())
		return
	}
	var de *session.DomainError
	if !errors.As(err, &de) {
		log.Error().Err(err).Msg("unexpected error in room API")
		writeError(w, http.StatusInternalServerError, string(session.ErrCodeInternal), "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch de.Code {
	case session.ErrCodeInvalidCode, session.ErrCodeInvalidName, session.ErrCodeInvalidReveal:
		status = http.StatusBadRequest
	case session.ErrCodeNotFound:
		status = http.StatusNotFound
	case session.ErrCodeExpired:
		status = http.StatusGone
	case session.ErrCodeRoomFull:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(de).Msg("room API internal failure")
	}
	writeError(w, status, string(de.Code), de.Message)
}
