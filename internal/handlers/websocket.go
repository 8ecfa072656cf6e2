// -----------------------------------------------------------------------
// WebSocket Handler - Live progress event streaming per job
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame sent to a client
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketHandler streams progress events for one job per connection.
// Clients connect with ?job_id=...&since_sequence=k; reconnecting with the
// last observed sequence resumes without loss for events within the
// retention window.
type WebSocketHandler struct {
	jobService interfaces.JobService
	config     *common.WebSocketConfig
	logger     arbor.ILogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(jobService interfaces.JobService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		jobService: jobService,
		config:     config,
		logger:     logger,
	}
}

// HandleWebSocket handles GET /ws?job_id=...&since_sequence=k
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id query parameter is required", http.StatusBadRequest)
		return
	}
	sinceSequence := QueryUint64(r, "since_sequence", 0)

	subscription, err := h.jobService.Subscribe(r.Context(), jobID, sinceSequence)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		subscription.Cancel()
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Int64("since_sequence", int64(sinceSequence)).
		Msg("WebSocket progress subscriber connected")

	// Reader: detect client disconnect
	readerDone := make(chan struct{})
	common.SafeGoWithContext(r.Context(), h.logger, "ws-reader", jobID, func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	defer func() {
		subscription.Cancel()
		conn.Close()
		h.logger.Info().Str("job_id", jobID).Msg("WebSocket progress subscriber disconnected")
	}()

	for {
		select {
		case <-readerDone:
			return
		case event, ok := <-subscription.Events:
			if !ok {
				// Bus detached us (slow consumer) or shut down; the client
				// re-subscribes with its last sequence.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if !h.allowed(event.Kind) {
				continue
			}
			if err := conn.WriteJSON(WSMessage{Type: "progress_event", Payload: event}); err != nil {
				h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to write progress event")
				return
			}
		}
	}
}

// allowed applies the configured event-kind whitelist; empty allows all
func (h *WebSocketHandler) allowed(kind models.EventKind) bool {
	if h.config == nil || len(h.config.AllowedEvents) == 0 {
		return true
	}
	for _, allowed := range h.config.AllowedEvents {
		if allowed == string(kind) {
			return true
		}
	}
	return false
}
