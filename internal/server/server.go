package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/events"
	"github.com/npezzotti/gochat-realtime/internal/stats"
	"github.com/npezzotti/gochat-realtime/internal/telemetry"
)

const (
	DefaultTypingTimeout       = 10 * time.Second
	DefaultStatusSweepInterval = 30 * time.Second

	metricConnections = "ActiveConnections"
	metricOnlineUsers = "OnlineUsers"
	metricTyping      = "TypingIndicators"
)

// RateLimiter decides whether a user may send another message.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Options struct {
	TypingTimeout       time.Duration
	StatusSweepInterval time.Duration
	Publisher           events.Publisher
	RateLimiter         RateLimiter
}

type ChatServer struct {
	log           *log.Logger
	db            database.GoChatRepository
	stats         stats.StatsProvider
	events        events.Publisher
	limiter       RateLimiter
	registry      *registry
	presence      *presenceTracker
	typing        *typingTracker
	roomLocks     keyedMutex
	sweepInterval time.Duration
	running       atomic.Bool
	ctx           context.Context
	cancel        context.CancelFunc
	stop          chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
}

func NewChatServer(logger *log.Logger, db database.GoChatRepository, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.StatusSweepInterval <= 0 {
		opts.StatusSweepInterval = DefaultStatusSweepInterval
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatServer{
		log:           logger,
		db:            db,
		stats:         su,
		events:        opts.Publisher,
		limiter:       opts.RateLimiter,
		registry:      newRegistry(),
		presence:      newPresenceTracker(),
		sweepInterval: opts.StatusSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	cs.typing = newTypingTracker(opts.TypingTimeout, cs.typingExpired)

	su.RegisterMetric(metricConnections)
	su.RegisterMetric(metricOnlineUsers)
	su.RegisterMetric(metricTyping)

	return cs, nil
}

// Run sweeps expired custom statuses until Shutdown is called.
func (cs *ChatServer) Run() {
	cs.running.Store(true)
	ticker := time.NewTicker(cs.sweepInterval)
	defer func() {
		ticker.Stop()
		close(cs.done)
	}()

	for {
		select {
		case <-ticker.C:
			cs.sweepCustomStatuses(cs.ctx)
		case <-cs.stop:
			return
		}
	}
}

// RegisterClient admits an authenticated connection: it joins the user's
// private room and server rooms, then reconciles presence.
func (cs *ChatServer) RegisterClient(ctx context.Context, c *Client) {
	cs.log.Printf("adding connection %s from %q", c.id, c.user.Username)
	cs.registry.add(c)
	cs.stats.Incr(metricConnections)

	serverIds, err := cs.db.ListServerIDs(ctx, c.user.Id)
	if err != nil {
		cs.log.Printf("ListServerIDs(%s): %v", c.user.Id, err)
	}
	for _, id := range serverIds {
		cs.registry.join(c, ServerRoom(id))
	}

	cs.reconcilePresence(ctx, c.user.Id, c)

	cs.publish(ctx, events.RoutingConnectionOpened, events.NewEnvelope("connection.opened", c.user.Id, map[string]any{
		"connId":  c.id,
		"servers": len(serverIds),
	}))
}

// UnregisterClient removes a closed connection from every room, stops any
// typing indicator it owned and reconciles presence.
func (cs *ChatServer) UnregisterClient(c *Client) {
	ctx := cs.ctx
	_, rooms := cs.registry.remove(c)
	if rooms == nil {
		return
	}

	cs.log.Printf("removing connection %s from %q", c.id, c.user.Username)
	cs.stats.Decr(metricConnections)

	for _, room := range cs.typing.roomsOwnedBy(c) {
		cs.endTyping(c, room, nil)
	}

	cs.reconcilePresence(ctx, c.user.Id, nil)

	cs.publish(ctx, events.RoutingConnectionClosed, events.NewEnvelope("connection.closed", c.user.Id, map[string]any{
		"connId":     c.id,
		"durationMs": time.Since(c.connectedAt).Milliseconds(),
	}))
}

// ConnectionsForUser returns the live connections of userId.
func (cs *ChatServer) ConnectionsForUser(userId string) []*Client {
	return cs.registry.connectionsForUser(userId)
}

// handleEvent decodes and dispatches one inbound event. Failures are sent
// to c alone.
func (cs *ChatServer) handleEvent(ctx context.Context, c *Client, msg *ClientMessage) {
	name := msg.Event
	if _, ok := decoders[name]; !ok {
		name = "unknown"
	}

	ctx, span := telemetry.Tracer().Start(ctx, "ws."+name, trace.WithAttributes(
		attribute.String("user.id", c.user.Id),
		attribute.String("conn.id", c.id),
	))
	defer span.End()

	err := cs.dispatch(ctx, c, msg)
	cs.stats.ObserveEvent(name, err)
	if err == nil {
		return
	}

	e := asError(err)
	span.RecordError(err)
	if e.Kind == KindInternal {
		span.SetStatus(codes.Error, e.Message)
		cs.log.Printf("%s from %q: %v", msg.Event, c.user.Username, err)
	}
	c.queueMessage(ErrEvent(msg.Id, e))
}

func (cs *ChatServer) dispatch(ctx context.Context, c *Client, msg *ClientMessage) error {
	p, err := decodeEvent(msg)
	if err != nil {
		return err
	}

	switch p := p.(type) {
	case ChannelJoin:
		return cs.JoinChannel(ctx, c, p.ChannelId)
	case ChannelLeave:
		cs.LeaveChannel(c, p.ChannelId)
	case DMJoin:
		return cs.JoinDM(ctx, c, p.DmId)
	case DMLeave:
		cs.LeaveDM(c, p.DmId)
	case ServerSubscribe:
		return cs.SubscribeServer(ctx, c, p.ServerId)
	case ServerUnsubscribe:
		cs.UnsubscribeServer(c, p.ServerId)
	case MessageSend:
		return cs.Send(ctx, c, p)
	case DMSend:
		return cs.SendDM(ctx, c, p)
	case MessageEdit:
		return cs.Edit(ctx, c, p)
	case MessageDelete:
		return cs.Delete(ctx, c, p)
	case MessageReact:
		return cs.React(ctx, c, p)
	case MessageReply:
		return cs.Reply(ctx, c, p)
	case MessagePin:
		return cs.Pin(ctx, c, p.MessageId)
	case MessageUnpin:
		return cs.Unpin(ctx, c, p.MessageId)
	case TypingStart:
		return cs.StartTyping(c, p.Target)
	case TypingStop:
		cs.StopTyping(c, p.Target)
	case SetStatus:
		return cs.SetStatus(ctx, c, p.Status)
	case SetCustomStatus:
		return cs.SetCustomStatus(ctx, c, p)
	}

	return nil
}

// broadcast queues msg on every member of room except msg.SkipClient.
// Delivery is best effort: a full send queue drops the event for that
// connection only.
func (cs *ChatServer) broadcast(room string, msg *ServerMessage) {
	for _, c := range cs.registry.members(room) {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

// broadcastRooms delivers msg at most once per connection across rooms.
func (cs *ChatServer) broadcastRooms(rooms []string, msg *ServerMessage) {
	seen := make(map[*Client]struct{})
	for _, room := range rooms {
		for _, c := range cs.registry.members(room) {
			if _, ok := seen[c]; ok || c == msg.SkipClient {
				continue
			}
			seen[c] = struct{}{}
			c.queueMessage(msg)
		}
	}
}

func (cs *ChatServer) publish(ctx context.Context, routingKey string, env events.Envelope) {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceId = sc.TraceID().String()
	}
	if err := cs.events.Publish(ctx, routingKey, env); err != nil {
		cs.log.Printf("publish %s: %v", routingKey, err)
	}
}

// Shutdown stops the sweeper and closes every connection, waiting for them
// to unregister or for ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	defer cs.cancel()

	cs.stopOnce.Do(func() { close(cs.stop) })
	for _, c := range cs.registry.all() {
		c.stopClient()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if len(cs.registry.all()) > 0 {
				continue
			}
			if cs.running.Load() {
				select {
				case <-cs.done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			cs.typing.stopAll()
			return nil
		}
	}
}
