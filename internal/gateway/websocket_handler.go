package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mkoval/sortroom/internal/events"
	"github.com/mkoval/sortroom/internal/session"
)

// WebSocketHandler upgrades browser connections onto a room's event feed.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	sessions          *session.Coordinator
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(cm *ConnectionManager, sessions *session.Coordinator) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		sessions:          sessions,
	}
}

// HandleRoomConnection handles websocket connections for a room. The room
// must exist; the participant id is advisory and lets viewers connect too.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room_code")
	if !events.ValidRoomCode(roomCode) {
		http.Error(w, "room_code must be 6 characters A-Z0-9", http.StatusBadRequest)
		return
	}

	if _, err := h.sessions.GetSession(roomCode); err != nil {
		writeDomainError(w, err)
		return
	}

	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		participantID = "viewer"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, participantID, roomCode); err != nil {
		log.Error().
			Err(err).
			Str("room_code", roomCode).
			Str("participant_id", participantID).
			Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetStats())
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
