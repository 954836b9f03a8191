package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"media-queue/internal/service"
)

const (
	eventBufferSize   = 64
	heartbeatInterval = 15 * time.Second
)

type changeEvent struct {
	Type  service.ChangeType `json:"type"`
	JobID string             `json:"jobId,omitempty"`
	Job   *JobResponse       `json:"job,omitempty"`
}

func toChangeEvent(c service.Change) changeEvent {
	ev := changeEvent{Type: c.Type, JobID: string(c.JobID)}
	if c.Job != nil {
		resp := jobToResponse(*c.Job)
		ev.Job = &resp
	}
	return ev
}

// events streams store changes as server-sent events until the client goes
// away. Slow clients drop events rather than stall the store.
func (h *Handler) events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := make(chan service.Change, eventBufferSize)
	unsubscribe := h.store.OnChange(func(change service.Change) {
		select {
		case ch <- change:
		default:
			h.logger.WithField("job_id", change.JobID).Warn("event stream full, dropping change")
		}
	})
	defer unsubscribe()

	c.Status(http.StatusOK)
	if err := writeEvent(c, "connected", gin.H{"jobs": len(h.store.List())}); err != nil {
		return
	}
	h.streamEvents(c, ch)
}

func (h *Handler) streamEvents(c *gin.Context, ch <-chan service.Change) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-ch:
			if err := writeEvent(c, string(change.Type), toChangeEvent(change)); err != nil {
				h.logger.WithError(err).Debug("event stream closed")
				return
			}
		case t := <-heartbeat.C:
			if _, err := fmt.Fprintf(c.Writer, ": heartbeat %s\n\n", t.UTC().Format(time.RFC3339)); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeEvent(c *gin.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
