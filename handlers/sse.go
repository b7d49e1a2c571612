package handlers

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/docusign-alternative/platform/realtime-service/internal/event"
	"github.com/docusign-alternative/platform/realtime-service/internal/registry"
	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
)

type sseFrame struct {
	comment bool
	ev      *event.Event
}

// sseLink adapts the one-way push stream to registry.Link. The registry's
// sweeps push keep-alive frames; the handler goroutine owns the actual writes.
type sseLink struct {
	ch   chan sseFrame
	done chan struct{}
	once sync.Once
}

func newSSELink() *sseLink {
	return &sseLink{
		ch:   make(chan sseFrame, 64),
		done: make(chan struct{}),
	}
}

func (l *sseLink) Transport() registry.Transport { return registry.TransportSSE }

func (l *sseLink) Send(ev *event.Event) error {
	return l.enqueue(sseFrame{ev: ev})
}

func (l *sseLink) Ping() error {
	return l.enqueue(sseFrame{comment: true})
}

func (l *sseLink) enqueue(f sseFrame) error {
	select {
	case <-l.done:
		return net.ErrClosed
	case l.ch <- f:
		return nil
	default:
		logger.Debugf("sse buffer full, dropping frame")
		return nil
	}
}

func (l *sseLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *sseLink) Closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// handleSSE serves the server-push stream: required streaming headers, an
// initial "connected" event before any subscriptions exist, then
// id:/event:/data: framed events until the client goes away.
func (h *RealtimeHandler) handleSSE(c *gin.Context) {
	id, err := resolveIdentity(c, h.cfg.Auth.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	link := newSSELink()
	connID, err := h.reg.Add(link, id.userID, id.organizationID, map[string]string{
		"remoteAddr": c.ClientIP(),
		"userAgent":  c.Request.UserAgent(),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	connected, _ := json.Marshal(gin.H{
		"type":         "connected",
		"connectionId": connID,
		"timestamp":    time.Now().UTC(),
	})
	if werr := writeSSEFrame(c.Writer, ulid.Make().String(), "connected", connected); werr != nil {
		h.reg.Remove(connID)
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.reg.Remove(connID)
			return
		case <-link.done:
			// Removed by the registry (staleness sweep or write failure).
			return
		case f := <-link.ch:
			var werr error
			if f.comment {
				_, werr = fmt.Fprint(c.Writer, ": keep-alive\n\n")
			} else {
				data, merr := json.Marshal(f.ev)
				if merr != nil {
					continue
				}
				werr = writeSSEFrame(c.Writer, f.ev.ID, string(f.ev.Type), data)
			}
			if werr != nil {
				logger.Debugf("sse write on %s failed: %v", connID, werr)
				h.reg.Remove(connID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, id, eventName string, data []byte) error {
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, eventName, data)
	return err
}
