package diagnostics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/livedocs/internal/events"
)

// StreamEvent is one server-sent event on /events.
type StreamEvent struct {
	Type      string    `json:"type"`
	BlockID   string    `json:"block_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// keepAlive is the interval of SSE comment frames on an idle stream.
var keepAlive = 30 * time.Second

const streamBuffer = 64

// handleEvents streams bus events as SSE. The optional block query parameter
// filters to one block; connection events are always sent.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	only := r.URL.Query().Get("block")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe := events.Subscribe[events.Event](s.src.Bus(), streamBuffer)
	defer unsubscribe()

	s.logger.Debug("Event stream opened", slog.String("block", only))
	s.sendSSE(w, flusher, StreamEvent{Type: "hello", Timestamp: time.Now(), Data: map[string]any{
		"page_key":  s.src.PageKey(),
		"connected": s.src.Connected(),
	}})

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("Event stream closed (client disconnect)")
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				s.logger.Debug("Event stream closed (bus closed)")
				return
			}
			id := evt.EventBlockID()
			if only != "" && id != "" && id != only {
				continue
			}
			s.sendSSE(w, flusher, StreamEvent{
				Type:      eventType(evt),
				BlockID:   id,
				Timestamp: time.Now(),
				Data:      evt,
			})
		}
	}
}

func (s *Server) sendSSE(w http.ResponseWriter, f http.Flusher, evt StreamEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("Failed to marshal SSE event", slog.Any("error", err))
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
	f.Flush()
}

func eventType(evt events.Event) string {
	switch evt.(type) {
	case events.PhaseChanged:
		return "phase_changed"
	case events.OutputChunk:
		return "output_chunk"
	case events.ExecutionFinished:
		return "execution_finished"
	case events.Connected:
		return "connected"
	case events.Disconnected:
		return "disconnected"
	case events.AnomalyReported:
		return "anomaly"
	default:
		return "event"
	}
}
