// Package messaging provides a NATS client wrapper for cross-instance
// pub/sub. It handles connection lifecycle, per-room subscriptions, and
// the presence event channel.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across gateway instances.
const (
	SubjectRoom     = "rooms"           // + .<room_id>
	SubjectPresence = "presence.events" // broadcast to all instances
)

// Event is the fan-out envelope published between gateway instances.
// Origin carries the publishing instance name so an instance can skip
// events it already delivered locally.
type Event struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"room_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "loqui-gateway",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Conn exposes the underlying connection for request/reply clients.
func (c *NATSClient) Conn() *nats.Conn {
	return c.conn
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishRoomEvent publishes a server event for a room to all instances.
func (c *NATSClient) PublishRoomEvent(roomID, origin string, data []byte) error {
	payload, err := json.Marshal(Event{Origin: origin, RoomID: roomID, Data: data})
	if err != nil {
		return fmt.Errorf("nats marshal room event: %w", err)
	}
	return c.Publish(SubjectRoom+"."+roomID, payload)
}

// SubscribeRoom subscribes to fan-out events for a room. Events that fail
// to decode are logged and dropped.
func (c *NATSClient) SubscribeRoom(roomID string, handler func(ev Event)) error {
	subject := SubjectRoom + "." + roomID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad room event on %s: %v", subject, err)
			return
		}
		handler(ev)
	})
}

// UnsubscribeRoom drops the subscription for a room when the last local
// member leaves.
func (c *NATSClient) UnsubscribeRoom(roomID string) error {
	return c.unsubscribe(SubjectRoom + "." + roomID)
}

// PublishPresenceEvent publishes a presence transition to all instances.
func (c *NATSClient) PublishPresenceEvent(origin string, data []byte) error {
	payload, err := json.Marshal(Event{Origin: origin, Data: data})
	if err != nil {
		return fmt.Errorf("nats marshal presence event: %w", err)
	}
	return c.Publish(SubjectPresence, payload)
}

// SubscribePresence subscribes to presence transitions from all instances.
func (c *NATSClient) SubscribePresence(handler func(ev Event)) error {
	return c.Subscribe(SubjectPresence, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] bad presence event: %v", err)
			return
		}
		handler(ev)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
