package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/anvil/internal/engine"
)

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := s.engine.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	// Subscribe first, then take the snapshot: a transition landing between
	// the two shows up either in the snapshot or on the channel, never lost.
	// Watch on a settled job returns a closed channel.
	ch, unsub := s.engine.Watch(id)
	defer unsub()
	job, _ := s.engine.Get(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	// A job that already settled gets its final state and an immediate done.
	if job != nil && job.Terminal() {
		writeSSEJSON(w, engine.Event{
			JobID:  job.ID,
			Status: job.Status,
			Stage:  job.Stage,
			Error:  job.Error,
			At:     time.Now().UTC(),
		})
		writeSSEEvent(w, "done", job.Status)
		if canFlush {
			flusher.Flush()
		}
		return
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				status := "removed"
				if final, ok := s.engine.Get(id); ok {
					status = final.Status
				}
				writeSSEEvent(w, "done", status)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEJSON(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEJSON writes an event as a single SSE data line. Marshaled JSON
// never contains raw newlines, so one data prefix suffices.
func writeSSEJSON(w http.ResponseWriter, ev engine.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
