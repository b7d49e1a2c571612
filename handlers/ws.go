package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/docusign-alternative/platform/realtime-service/internal/event"
	"github.com/docusign-alternative/platform/realtime-service/internal/registry"
	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced upstream by the platform gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is what the client may send after the handshake.
type clientFrame struct {
	Type           string         `json:"type"`
	Subscription   *subscribeSpec `json:"subscription,omitempty"`
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	Timestamp      int64          `json:"timestamp,omitempty"`
}

type subscribeSpec struct {
	Type   event.SubscriptionType `json:"type"`
	Filter event.Filter           `json:"filter"`
}

// wsLink adapts a gorilla connection to registry.Link. Outbound frames go
// through a buffered channel drained by writeLoop; gorilla permits one writer,
// with control frames as the documented exception.
type wsLink struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSLink(conn *websocket.Conn) *wsLink {
	return &wsLink{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (l *wsLink) Transport() registry.Transport { return registry.TransportWebSocket }

func (l *wsLink) Send(ev *event.Event) error {
	frame, err := json.Marshal(gin.H{"type": "event", "event": ev})
	if err != nil {
		return err
	}
	return l.enqueue(frame)
}

func (l *wsLink) enqueue(frame []byte) error {
	select {
	case <-l.done:
		return net.ErrClosed
	case l.send <- frame:
		return nil
	default:
		// Slow consumer: drop this frame instead of blocking the broadcast.
		logger.Debugf("websocket send buffer full, dropping frame")
		return nil
	}
}

func (l *wsLink) Ping() error {
	select {
	case <-l.done:
		return net.ErrClosed
	default:
	}
	return l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (l *wsLink) Close() error {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
	return nil
}

func (l *wsLink) Closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *wsLink) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case frame := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = l.Close()
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection, resolves the caller identity and
// registers the connection. Connections without a resolvable identity are
// closed with an explicit policy-violation code before registration.
func (h *RealtimeHandler) handleWebSocket(c *gin.Context) {
	id, idErr := resolveIdentity(c, h.cfg.Auth.JWTSecret)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("websocket upgrade failed: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	if idErr != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, idErr.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	link := newWSLink(conn)
	connID, err := h.reg.Add(link, id.userID, id.organizationID, map[string]string{
		"remoteAddr": c.ClientIP(),
		"userAgent":  c.Request.UserAgent(),
	})
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	// Welcome goes out before the write loop starts so it is the first frame
	// on the wire.
	welcome, _ := json.Marshal(gin.H{
		"type":         "welcome",
		"connectionId": connID,
		"timestamp":    time.Now().UTC(),
		"serverInfo":   gin.H{"name": serverName, "version": serverVersion},
	})
	_ = link.enqueue(welcome)
	go link.writeLoop()

	h.readLoop(conn, link, connID)
	h.reg.Remove(connID)
}

func (h *RealtimeHandler) readLoop(conn *websocket.Conn, link *wsLink, connID string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.reg.Touch(connID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			logger.Debugf("websocket read on %s ended: %v", connID, err)
			return
		}
		h.reg.Touch(connID)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Type {
		case "subscribe":
			if frame.Subscription == nil {
				h.sendError(link, "subscription is required")
				continue
			}
			subID, err := h.reg.Subscribe(connID, frame.Subscription.Type, frame.Subscription.Filter)
			if err != nil {
				h.sendError(link, err.Error())
				continue
			}
			h.sendFrame(link, gin.H{"type": "subscribed", "subscriptionId": subID})
		case "unsubscribe":
			h.reg.Unsubscribe(connID, frame.SubscriptionID)
			h.sendFrame(link, gin.H{"type": "unsubscribed", "subscriptionId": frame.SubscriptionID})
		case "ping":
			h.sendFrame(link, gin.H{"type": "pong", "timestamp": time.Now().UTC()})
		default:
			h.sendError(link, "unknown frame type")
		}
	}
}

func (h *RealtimeHandler) sendFrame(link *wsLink, frame gin.H) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = link.enqueue(data)
}

func (h *RealtimeHandler) sendError(link *wsLink, msg string) {
	h.sendFrame(link, gin.H{"type": "error", "error": msg})
}
