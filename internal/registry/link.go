package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/docusign-alternative/platform/realtime-service/internal/event"
)

// Transport identifies the wire protocol behind a connection.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportSSE       Transport = "sse"
)

// Link is the transport handle exclusively owned by a connection. Implementations
// live with the transport bindings; the registry only writes, pings and closes.
type Link interface {
	Transport() Transport
	// Send delivers one event to the client. An error means the connection is
	// lost and the registry will remove it.
	Send(ev *event.Event) error
	// Ping emits a transport-level liveness signal: a ping control frame on
	// WebSocket, a comment line on SSE.
	Ping() error
	Close() error
	Closed() bool
}

// newID generates an id of shape prefix_<unix-millis>_<random>.
func newID(prefix string) string {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}
