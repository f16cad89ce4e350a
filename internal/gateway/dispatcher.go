package gateway

import (
	"log"
	"time"

	"github.com/loqui/social-core/internal/metrics"
	"github.com/loqui/social-core/internal/protocol"
)

// EventHandler is the callback signature for handling a parsed client
// event. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g. protocol.SendMessageMsg).
type EventHandler func(conn *Connection, msg interface{})

// Dispatcher routes incoming WebSocket events to registered handlers based
// on the event type. It handles the ping/pong keepalive internally and
// sends structured error responses for malformed or unsupported events.
type Dispatcher struct {
	handlers map[string]EventHandler
	onPing   func(conn *Connection)
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]EventHandler)}
}

// Register associates an EventHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *Dispatcher) Register(msgType string, handler EventHandler) {
	d.handlers[msgType] = handler
}

// SetOnPing registers a callback invoked for every client ping, before the
// pong reply. The presence layer uses it as the activity signal.
func (d *Dispatcher) SetOnPing(fn func(conn *Connection)) {
	d.onPing = fn
}

// Dispatch is the onMessage callback implementation. It parses the raw
// bytes into a typed event, handles ping internally, and routes all other
// types to the registered handler. Parse errors and unregistered types
// result in an error event sent back to the client.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("gateway: dispatch parse error session=%s: %v", conn.ID, err)
		d.sendError(conn, "invalid_request", "invalid message format")
		return
	}

	metrics.EventsTotal.WithLabelValues(msgType).Inc()

	if msgType == protocol.TypePing {
		if d.onPing != nil {
			d.onPing(conn)
		}
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("gateway: unsupported event type=%q session=%s", msgType, conn.ID)
		d.sendError(conn, "invalid_request", "unsupported event type")
		return
	}

	handler(conn, msg)
}

// sendError sends a structured error event back to the client. Errors
// during construction or transmission are logged but not propagated.
func (d *Dispatcher) sendError(conn *Connection, code string, message string) {
	metrics.EventErrors.WithLabelValues(code).Inc()

	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("gateway: failed to build error event session=%s: %v", conn.ID, err)
		return
	}

	if err := conn.Write(data); err != nil {
		log.Printf("gateway: failed to send error event session=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event and updates the
// connection's LastPing timestamp.
func (d *Dispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("gateway: failed to build pong session=%s: %v", conn.ID, err)
		return
	}

	if err := conn.Write(data); err != nil {
		log.Printf("gateway: failed to send pong session=%s: %v", conn.ID, err)
	}
}
