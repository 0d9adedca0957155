package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

const (
	defaultReplayLimit  = 10
	defaultWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for all frames sent to stream clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams a single task's progress events to connected
// clients. Each connection replays the persisted tail first, then follows
// the live stream, deduplicating by sequence across the seam.
type WebSocketHandler struct {
	broadcaster  interfaces.ProgressBroadcaster
	logger       arbor.ILogger
	replayLimit  int
	writeTimeout time.Duration
}

// NewWebSocketHandler creates a new progress stream handler
func NewWebSocketHandler(broadcaster interfaces.ProgressBroadcaster, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		broadcaster:  broadcaster,
		logger:       logger,
		replayLimit:  defaultReplayLimit,
		writeTimeout: defaultWriteTimeout,
	}

	if config != nil {
		if config.ReplayLimit > 0 {
			h.replayLimit = config.ReplayLimit
		}
		if config.WriteTimeout != "" {
			if d, err := time.ParseDuration(config.WriteTimeout); err == nil {
				h.writeTimeout = d
			} else {
				logger.Warn().Err(err).Str("write_timeout", config.WriteTimeout).Msg("Invalid WebSocket write timeout, using default")
			}
		}
	}

	return h
}

// HandleTaskStream upgrades the connection and streams the task's events.
func (h *WebSocketHandler) HandleTaskStream(w http.ResponseWriter, r *http.Request, taskID string) {
	if taskID == "" {
		http.Error(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("task_id", taskID).Msg("WebSocket client connected")

	// Replay the persisted tail before going live. Tracking the last
	// replayed sequence lets us drop the overlap with the live stream.
	var lastSeq uint64
	replayed, err := h.broadcaster.Replay(r.Context(), taskID, h.replayLimit)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to replay progress events")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "replay failed"),
			time.Now().Add(h.writeTimeout))
		return
	}

	for _, event := range replayed {
		if err := h.writeEvent(conn, event); err != nil {
			h.logger.Debug().Err(err).Str("task_id", taskID).Msg("WebSocket client gone during replay")
			return
		}
		if event.Sequence > lastSeq {
			lastSeq = event.Sequence
		}
	}

	subID, events := h.broadcaster.Subscribe(taskID)
	defer h.broadcaster.Unsubscribe(taskID, subID)

	// Reader goroutine detects client disconnect; inbound frames are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					h.logger.Warn().Err(err).Str("task_id", taskID).Msg("WebSocket read error")
				}
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				h.logger.Debug().Str("task_id", taskID).Msg("Progress stream closed")
				return
			}
			if event.Sequence != 0 && event.Sequence <= lastSeq {
				continue // already sent during replay
			}
			if err := h.writeEvent(conn, event); err != nil {
				h.logger.Debug().Err(err).Str("task_id", taskID).Msg("WebSocket client disconnected")
				return
			}
			if event.Sequence > lastSeq {
				lastSeq = event.Sequence
			}
		case <-done:
			h.logger.Debug().Str("task_id", taskID).Msg("WebSocket client disconnected")
			return
		}
	}
}

func (h *WebSocketHandler) writeEvent(conn *websocket.Conn, event *models.ProgressEvent) error {
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteJSON(WSMessage{
		Type:    string(event.Type),
		Payload: event,
	})
}
