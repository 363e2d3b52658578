package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/rumpsched/pkg/model"
)

// handleStreamRun replays a run's switch events via Server-Sent Events.
// GET /api/v1/runs/{id}/stream
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "run", run); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
		return
	}

	opts := model.ListOptions{Limit: 100}
	for {
		if r.Context().Err() != nil {
			return
		}
		events, total, err := s.store.ListEvents(r.Context(), id, opts)
		if err != nil {
			s.logger.Error("sse fetch error", "id", id, "error", err)
			return
		}
		for _, ev := range events {
			if err := sendSSEEvent(w, flusher, "switch", ev); err != nil {
				s.logger.Debug("sse client disconnected", "id", id)
				return
			}
		}
		opts.Offset += len(events)
		if len(events) == 0 || opts.Offset >= total {
			break
		}
	}

	sendSSEEvent(w, flusher, "complete", map[string]any{"id": run.ID, "events": opts.Offset})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
