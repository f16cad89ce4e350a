package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/loqui/social-core/internal/directory"
	"github.com/loqui/social-core/internal/domain"
	"github.com/loqui/social-core/internal/message"
	"github.com/loqui/social-core/internal/messaging"
	"github.com/loqui/social-core/internal/metrics"
	"github.com/loqui/social-core/internal/protocol"
	"github.com/loqui/social-core/internal/ratelimit"
	"github.com/loqui/social-core/internal/rooms"
)

// requestTimeout bounds the store and directory calls made for a single
// client event.
const requestTimeout = 5 * time.Second

// MessageStore is the slice of the message store the gateway drives.
// Satisfied by *message.Store.
type MessageStore interface {
	Send(ctx context.Context, in message.SendInput) (*domain.Message, error)
	Edit(ctx context.Context, messageID, requesterID, newBody string) (*domain.Message, error)
	SoftDelete(ctx context.Context, messageID, requesterID string) error
	AddReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	MarkRead(ctx context.Context, threadID, userID string) (int64, error)
	Get(ctx context.Context, messageID string) (*domain.Message, error)
}

// ThreadResolver is the thread lookup surface. Satisfied by
// *thread.Resolver.
type ThreadResolver interface {
	ResolvePrivate(ctx context.Context, userA, userB string) (string, error)
	ResolveGroup(groupID string) (string, error)
	Participants(ctx context.Context, threadID string) (string, string, error)
	ListThreads(ctx context.Context, userID string, groupIDs []string, page int) ([]domain.ThreadSummary, error)
	Messages(ctx context.Context, threadID string, page int) ([]*domain.Message, bool, error)
}

// EventBus fans events out to the other instances. Satisfied by
// *messaging.NATSClient.
type EventBus interface {
	PublishRoomEvent(roomID, origin string, data []byte) error
	SubscribeRoom(roomID string, handler func(ev messaging.Event)) error
	UnsubscribeRoom(roomID string) error
	PublishPresenceEvent(origin string, data []byte) error
	SubscribePresence(handler func(ev messaging.Event)) error
}

// Limiter throttles per-user event rates. Satisfied by
// *ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Deps are the collaborators the Gateway routes client events through.
type Deps struct {
	Messages   MessageStore
	Threads    ThreadResolver
	Rooms      *rooms.Registry
	Bus        EventBus
	Membership directory.Membership
	Profiles   directory.Profiles
	Limiter    Limiter
}

// Gateway is the application layer on top of the WebSocket server. It
// routes client events to the message store, thread resolver, and presence
// tracker, and fans resulting server events out to local rooms and to
// other instances over NATS.
//
// Delivery routing: events for a private thread go to the two
// participants' personal rooms (every connection joins its user's personal
// room at connect time); events for a group thread go to the group room,
// which clients join explicitly.
type Gateway struct {
	instance string
	deps     Deps
	server   *Server
	disp     *Dispatcher
	tracker  PresenceTracker
}

// PresenceTracker is the part of the presence state machine the gateway
// drives from connection lifecycle events.
type PresenceTracker interface {
	HandleConnect(ctx context.Context, userID string)
	HandlePing(ctx context.Context, userID string)
	HandleDisconnect(ctx context.Context, userID string)
}

// New creates a Gateway. Bind must be called before the server starts.
func New(instance string, deps Deps) *Gateway {
	return &Gateway{instance: instance, deps: deps}
}

// SetTracker attaches the presence tracker. Set separately because the
// tracker's broadcaster is the Gateway itself.
func (g *Gateway) SetTracker(t PresenceTracker) {
	g.tracker = t
}

// Bind attaches the Gateway to the transport: it registers every event
// handler with the dispatcher, hooks the connection lifecycle callbacks,
// and subscribes to the cross-instance presence channel.
func (g *Gateway) Bind(server *Server, disp *Dispatcher) error {
	g.server = server
	g.disp = disp

	server.SetOnConnect(g.onConnect)
	server.SetOnDisconnect(g.onDisconnect)
	disp.SetOnPing(g.onPing)

	disp.Register(protocol.TypeSendMessage, g.handleSendMessage)
	disp.Register(protocol.TypeEditMessage, g.handleEditMessage)
	disp.Register(protocol.TypeDeleteMessage, g.handleDeleteMessage)
	disp.Register(protocol.TypeAddReaction, g.handleAddReaction)
	disp.Register(protocol.TypeRemoveReaction, g.handleRemoveReaction)
	disp.Register(protocol.TypeMarkRead, g.handleMarkRead)
	disp.Register(protocol.TypeJoinRoom, g.handleJoinRoom)
	disp.Register(protocol.TypeLeaveRoom, g.handleLeaveRoom)
	disp.Register(protocol.TypeTyping, g.handleTyping)
	disp.Register(protocol.TypeStopTyping, g.handleTyping)
	disp.Register(protocol.TypeListThreads, g.handleListThreads)
	disp.Register(protocol.TypeGetMessages, g.handleGetMessages)

	if err := g.deps.Bus.SubscribePresence(g.onRemotePresence); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func (g *Gateway) onConnect(conn *Connection) {
	// Every connection joins its user's personal room so private-thread
	// events reach all of the user's devices.
	if g.deps.Rooms.Join(conn.UserID, conn) {
		metrics.ActiveRooms.Inc()
		if err := g.deps.Bus.SubscribeRoom(conn.UserID, g.onRemoteRoomEvent); err != nil {
			log.Printf("gateway: subscribe personal room user=%s: %v", conn.UserID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	g.tracker.HandleConnect(ctx, conn.UserID)
}

func (g *Gateway) onDisconnect(conn *Connection) {
	for _, roomID := range g.deps.Rooms.LeaveAll(conn.ID) {
		metrics.ActiveRooms.Dec()
		if err := g.deps.Bus.UnsubscribeRoom(roomID); err != nil {
			log.Printf("gateway: unsubscribe room %s: %v", roomID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	g.tracker.HandleDisconnect(ctx, conn.UserID)
}

func (g *Gateway) onPing(conn *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	g.tracker.HandlePing(ctx, conn.UserID)
}

// ---------------------------------------------------------------------------
// Presence broadcast (presence.Broadcaster implementation)
// ---------------------------------------------------------------------------

// PresenceChanged broadcasts a presence transition to every local
// connection and publishes it for the other instances. Presence is
// platform-wide, so there is no per-room routing.
func (g *Gateway) PresenceChanged(userID, state string) {
	var msgType string
	switch state {
	case domain.PresenceOnline:
		msgType = protocol.TypeUserOnline
		metrics.OnlineUsers.Inc()
	case domain.PresenceInactive:
		msgType = protocol.TypeUserInactive
	case domain.PresenceOffline:
		msgType = protocol.TypeUserOffline
		metrics.OnlineUsers.Dec()
	default:
		return
	}

	data, err := protocol.NewServerMessage(msgType, protocol.PresenceMsg{UserID: userID})
	if err != nil {
		log.Printf("gateway: build presence event user=%s: %v", userID, err)
		return
	}

	g.server.Connections().Broadcast(data)
	if err := g.deps.Bus.PublishPresenceEvent(g.instance, data); err != nil {
		log.Printf("gateway: publish presence event user=%s: %v", userID, err)
	}
}

func (g *Gateway) onRemotePresence(ev messaging.Event) {
	if ev.Origin == g.instance {
		return
	}
	g.server.Connections().Broadcast(ev.Data)
}

// ---------------------------------------------------------------------------
// Fan-out helpers
// ---------------------------------------------------------------------------

// routesFor returns the rooms a message event is delivered to.
func routesFor(m *domain.Message) []string {
	if m.Kind == domain.KindPrivate {
		if m.SenderID == m.RecipientID {
			return []string{m.SenderID}
		}
		return []string{m.SenderID, m.RecipientID}
	}
	return []string{m.ThreadID}
}

// deliver broadcasts a server event to the given rooms locally and
// publishes it for the other instances.
func (g *Gateway) deliver(roomIDs []string, data []byte) {
	for _, roomID := range roomIDs {
		g.deps.Rooms.Broadcast(roomID, data)
		metrics.BroadcastsTotal.WithLabelValues("local").Inc()
		if err := g.deps.Bus.PublishRoomEvent(roomID, g.instance, data); err != nil {
			log.Printf("gateway: publish room event room=%s: %v", roomID, err)
		}
	}
}

// deliverExcept is deliver with the originating session excluded from the
// local broadcast. Used for typing signals.
func (g *Gateway) deliverExcept(roomIDs []string, exceptSession string, data []byte) {
	for _, roomID := range roomIDs {
		g.deps.Rooms.BroadcastExcept(roomID, exceptSession, data)
		metrics.BroadcastsTotal.WithLabelValues("local").Inc()
		if err := g.deps.Bus.PublishRoomEvent(roomID, g.instance, data); err != nil {
			log.Printf("gateway: publish room event room=%s: %v", roomID, err)
		}
	}
}

func (g *Gateway) onRemoteRoomEvent(ev messaging.Event) {
	if ev.Origin == g.instance {
		return
	}
	g.deps.Rooms.Broadcast(ev.RoomID, ev.Data)
	metrics.BroadcastsTotal.WithLabelValues("remote").Inc()
}

// threadRoutes returns the delivery rooms for a thread-scoped event
// (read receipts, typing) that has no message to route by.
func (g *Gateway) threadRoutes(ctx context.Context, threadID string) ([]string, error) {
	a, b, err := g.deps.Threads.Participants(ctx, threadID)
	switch {
	case err == nil:
		if a == b {
			return []string{a}, nil
		}
		return []string{a, b}, nil
	case errors.Is(err, domain.ErrNotFound):
		// Not a private thread: the thread id is the group room.
		return []string{threadID}, nil
	default:
		return nil, err
	}
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

func (g *Gateway) handleSendMessage(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.SendMessageMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if allowed, _ := g.deps.Limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage); !allowed {
		g.disp.sendError(conn, "rate_limited", "too many messages, slow down")
		return
	}

	var (
		threadID string
		err      error
	)
	switch m.Kind {
	case domain.KindPrivate:
		threadID, err = g.deps.Threads.ResolvePrivate(ctx, conn.UserID, m.RecipientID)
	case domain.KindGroup:
		var member bool
		member, err = g.deps.Membership.IsMember(ctx, conn.UserID, m.GroupID)
		if err == nil && !member {
			err = domain.ErrForbidden
		}
		if err == nil {
			threadID, err = g.deps.Threads.ResolveGroup(m.GroupID)
		}
	default:
		err = domain.ErrValidation
	}
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	start := time.Now()
	msg, err := g.deps.Messages.Send(ctx, message.SendInput{
		Kind:        m.Kind,
		ThreadID:    threadID,
		SenderID:    conn.UserID,
		RecipientID: m.RecipientID,
		Body:        m.Body,
		ReplyTo:     m.ReplyTo,
		Attachments: m.Attachments,
	})
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	evt := protocol.MessageEventMsg{Message: msg}
	if g.deps.Profiles != nil {
		profile, perr := g.deps.Profiles.Get(ctx, conn.UserID)
		if perr != nil {
			log.Printf("gateway: profile lookup user=%s: %v", conn.UserID, perr)
		} else {
			evt.Sender = profile
		}
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageNew, evt)
	if err != nil {
		log.Printf("gateway: build message_new: %v", err)
		return
	}
	g.deliver(routesFor(msg), data)
}

func (g *Gateway) handleEditMessage(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.EditMessageMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	msg, err := g.deps.Messages.Edit(ctx, m.MessageID, conn.UserID, m.Body)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageEdited, protocol.MessageEventMsg{Message: msg})
	if err != nil {
		log.Printf("gateway: build message_edited: %v", err)
		return
	}
	g.deliver(routesFor(msg), data)
}

func (g *Gateway) handleDeleteMessage(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.DeleteMessageMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := g.deps.Messages.SoftDelete(ctx, m.MessageID, conn.UserID); err != nil {
		g.sendDomainError(conn, err)
		return
	}

	// Fetch the deleted message for its routing fields.
	msg, err := g.deps.Messages.Get(ctx, m.MessageID)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
	})
	if err != nil {
		log.Printf("gateway: build message_deleted: %v", err)
		return
	}
	g.deliver(routesFor(msg), data)
}

func (g *Gateway) handleAddReaction(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.ReactionMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if allowed, _ := g.deps.Limiter.Allow(ctx, conn.UserID, ratelimit.RuleReaction); !allowed {
		g.disp.sendError(conn, "rate_limited", "too many reactions, slow down")
		return
	}

	reaction, err := g.deps.Messages.AddReaction(ctx, m.MessageID, conn.UserID, m.Emoji)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	msg, err := g.deps.Messages.Get(ctx, m.MessageID)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeReactionAdded, protocol.ReactionEventMsg{
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		UserID:    reaction.UserID,
		Emoji:     reaction.Emoji,
	})
	if err != nil {
		log.Printf("gateway: build reaction_added: %v", err)
		return
	}
	g.deliver(routesFor(msg), data)
}

func (g *Gateway) handleRemoveReaction(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.ReactionMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := g.deps.Messages.RemoveReaction(ctx, m.MessageID, conn.UserID, m.Emoji); err != nil {
		g.sendDomainError(conn, err)
		return
	}

	msg, err := g.deps.Messages.Get(ctx, m.MessageID)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeReactionRemoved, protocol.ReactionEventMsg{
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		UserID:    conn.UserID,
		Emoji:     m.Emoji,
	})
	if err != nil {
		log.Printf("gateway: build reaction_removed: %v", err)
		return
	}
	g.deliver(routesFor(msg), data)
}

func (g *Gateway) handleMarkRead(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.MarkReadMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := g.authorizeThread(ctx, conn.UserID, m.ThreadID); err != nil {
		g.sendDomainError(conn, err)
		return
	}

	count, err := g.deps.Messages.MarkRead(ctx, m.ThreadID, conn.UserID)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	routes, err := g.threadRoutes(ctx, m.ThreadID)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageRead, protocol.MessageReadMsg{
		ThreadID: m.ThreadID,
		UserID:   conn.UserID,
		Count:    count,
	})
	if err != nil {
		log.Printf("gateway: build message_read: %v", err)
		return
	}
	g.deliver(routes, data)
}

func (g *Gateway) handleJoinRoom(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.RoomMsg)
	if !ok {
		return
	}
	if m.RoomID == "" {
		g.disp.sendError(conn, "invalid_request", "room_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	member, err := g.deps.Membership.IsMember(ctx, conn.UserID, m.RoomID)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}
	if !member {
		g.sendDomainError(conn, domain.ErrForbidden)
		return
	}

	if g.deps.Rooms.Join(m.RoomID, conn) {
		metrics.ActiveRooms.Inc()
		if err := g.deps.Bus.SubscribeRoom(m.RoomID, g.onRemoteRoomEvent); err != nil {
			log.Printf("gateway: subscribe room %s: %v", m.RoomID, err)
		}
	}
}

func (g *Gateway) handleLeaveRoom(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.RoomMsg)
	if !ok {
		return
	}

	if g.deps.Rooms.Leave(m.RoomID, conn.ID) {
		metrics.ActiveRooms.Dec()
		if err := g.deps.Bus.UnsubscribeRoom(m.RoomID); err != nil {
			log.Printf("gateway: unsubscribe room %s: %v", m.RoomID, err)
		}
	}
}

// handleTyping relays both typing and stop_typing. The signal is
// ephemeral: it is never persisted and the sender is excluded from the
// local broadcast.
func (g *Gateway) handleTyping(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.TypingMsg)
	if !ok {
		return
	}
	if m.ThreadID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := g.authorizeThread(ctx, conn.UserID, m.ThreadID); err != nil {
		g.sendDomainError(conn, err)
		return
	}

	routes, err := g.threadRoutes(ctx, m.ThreadID)
	if err != nil {
		return
	}

	msgType := protocol.TypeTyping
	if m.Type == protocol.TypeStopTyping {
		msgType = protocol.TypeStopTyping
	}

	data, err := protocol.NewServerMessage(msgType, protocol.TypingEventMsg{
		ThreadID: m.ThreadID,
		UserID:   conn.UserID,
	})
	if err != nil {
		log.Printf("gateway: build typing event: %v", err)
		return
	}
	g.deliverExcept(routes, conn.ID, data)
}

func (g *Gateway) handleListThreads(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.ListThreadsMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	groups, err := g.deps.Membership.Memberships(ctx, conn.UserID)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	threads, err := g.deps.Threads.ListThreads(ctx, conn.UserID, groups, m.Page)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeThreadList, protocol.ThreadListMsg{
		Page:    m.Page,
		Threads: threads,
	})
	if err != nil {
		log.Printf("gateway: build thread_list: %v", err)
		return
	}
	if err := conn.Write(data); err != nil {
		log.Printf("gateway: send thread_list session=%s: %v", conn.ID, err)
	}
}

func (g *Gateway) handleGetMessages(conn *Connection, raw interface{}) {
	m, ok := raw.(protocol.GetMessagesMsg)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := g.authorizeThread(ctx, conn.UserID, m.ThreadID); err != nil {
		g.sendDomainError(conn, err)
		return
	}

	messages, hasMore, err := g.deps.Threads.Messages(ctx, m.ThreadID, m.Page)
	if err != nil {
		g.sendDomainError(conn, err)
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeThreadHistory, protocol.ThreadHistoryMsg{
		ThreadID: m.ThreadID,
		Page:     m.Page,
		Messages: messages,
		HasMore:  hasMore,
	})
	if err != nil {
		log.Printf("gateway: build thread_history: %v", err)
		return
	}
	if err := conn.Write(data); err != nil {
		log.Printf("gateway: send thread_history session=%s: %v", conn.ID, err)
	}
}

// authorizeThread checks that the user may read the thread: a participant
// for private threads, a group member otherwise.
func (g *Gateway) authorizeThread(ctx context.Context, userID, threadID string) error {
	a, b, err := g.deps.Threads.Participants(ctx, threadID)
	switch {
	case err == nil:
		if userID != a && userID != b {
			return domain.ErrForbidden
		}
		return nil
	case errors.Is(err, domain.ErrNotFound):
		member, err := g.deps.Membership.IsMember(ctx, userID, threadID)
		if err != nil {
			return err
		}
		if !member {
			return domain.ErrForbidden
		}
		return nil
	default:
		return err
	}
}

// sendDomainError maps a domain error to its wire code and delivers it to
// the originating connection only.
func (g *Gateway) sendDomainError(conn *Connection, err error) {
	code := domain.ErrorCode(err)
	if code == "internal" {
		log.Printf("gateway: internal error session=%s: %v", conn.ID, err)
	}
	g.disp.sendError(conn, code, errorText(code))
}

// errorText returns the client-facing description for a wire error code.
// Internal detail never leaves the server.
func errorText(code string) string {
	switch code {
	case "invalid_request":
		return "request failed validation"
	case "not_found":
		return "resource not found"
	case "forbidden":
		return "not allowed"
	case "conflict":
		return "already exists"
	case "unreadable":
		return "message content could not be decoded"
	case "auth_failed":
		return "authentication failed"
	default:
		return "internal error"
	}
}
