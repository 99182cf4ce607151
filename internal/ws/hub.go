package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/notify"
	"github.com/teamchat/internal/service"
	"github.com/teamchat/internal/storage"
)

// Ack codes sent back to the initiating connection.
const (
	CodeNotFound   = "not_found"
	CodeValidation = "validation"
	CodeInternal   = "internal"
)

var ErrHubStopped = errors.New("hub stopped")

type handlerFunc func(ctx context.Context, c *Client, raw json.RawMessage) error

// Hub is the single dispatch point for inbound events. Each connection's
// events are handled one at a time by its read pump.
type Hub struct {
	registry   *Registry
	messenger  *service.Messenger
	engine     *notify.Engine
	dispatcher *notify.Dispatcher
	clientCfg  ClientConfig
	timeout    time.Duration

	handlers map[EventType]handlerFunc
	done     chan struct{}
}

// NewHub wires the dispatch table. engine and dispatcher may be nil: without a
// dispatcher background tasks run inline, without an engine no fan-out runs.
func NewHub(registry *Registry, messenger *service.Messenger, engine *notify.Engine, dispatcher *notify.Dispatcher, cfg ClientConfig) *Hub {
	h := &Hub{
		registry:   registry,
		messenger:  messenger,
		engine:     engine,
		dispatcher: dispatcher,
		clientCfg:  cfg.withDefaults(),
		timeout:    5 * time.Second,
		done:       make(chan struct{}),
	}
	h.handlers = map[EventType]handlerFunc{
		EventUserJoin:      h.presence(true),
		EventUserLeave:     h.presence(false),
		EventChannelOpen:   h.handleChannelOpen,
		EventConvoOpen:     h.handleConvoOpen,
		EventMessage:       h.handleMessage,
		EventThreadMessage: h.handleThreadMessage,
		EventMessageView:   h.handleMessageView,
		EventEditMessage:   h.handleEditMessage,
		EventDeleteMessage: h.handleDeleteMessage,
		EventReaction:      h.handleReaction,
		EventJoinRoom:      h.handleJoinRoom,
		EventRoomLeave:     h.handleRoomLeave,
		EventOffer:         h.signal(EventOffer),
		EventAnswer:        h.signal(EventAnswer),
		EventICECandidate:  h.signal(EventICECandidate),
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

// NewClient builds a client bound to this hub with the configured limits.
func (h *Hub) NewClient(conn *websocket.Conn, userID string) *Client {
	return NewClient(h, conn, userID, h.clientCfg)
}

// Run relays remote broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.registry.RunRelay(ctx)
	<-ctx.Done()
	h.registry.CloseAll()
}

// Connect registers c. The user's first connection marks them online.
func (h *Hub) Connect(c *Client) error {
	select {
	case <-h.done:
		c.Close()
		return ErrHubStopped
	default:
	}
	first, err := h.registry.Add(c)
	if err != nil {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.registry.maxConns, c.userID)
		c.Close()
		return err
	}
	if first {
		h.setPresence(c.userID, true)
	}
	return nil
}

// Disconnect removes c from the registry and every room it joined.
// The user's last connection marks them offline.
func (h *Hub) Disconnect(c *Client) {
	last := h.registry.Remove(c)
	c.Close()
	if last {
		h.setPresence(c.userID, false)
	}
}

func (h *Hub) setPresence(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.messenger.SetPresence(ctx, userID, online); err != nil {
		logger.Errorf("ws set presence user=%s online=%v: %v", userID, online, err)
		return
	}
	event := EventUserLeave
	if online {
		event = EventUserJoin
	}
	h.registry.BroadcastAll(event, PresencePayload{ID: userID, IsOnline: online})
}

// HandleMessage dispatches one inbound event and acknowledges it when asked to.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	start := time.Now()
	err := h.dispatch(ctx, c, msg)
	code := errorCode(err)

	outcome := "ok"
	if code != "" {
		outcome = code
	}
	metrics.IncWSEvent(string(msg.Type), outcome)

	switch code {
	case "":
		logger.Debugf("ws event=%s user=%s took=%s", msg.Type, c.userID, time.Since(start))
	case CodeValidation:
		c.sendError(err.Error())
	case CodeNotFound:
		logger.Infof("ws event=%s user=%s: %v", msg.Type, c.userID, err)
	default:
		logger.Errorf("ws event=%s user=%s: %v", msg.Type, c.userID, err)
	}

	if msg.AckID != "" {
		ack := AckPayload{AckID: msg.AckID, OK: err == nil, Code: code}
		if err != nil {
			ack.Error = err.Error()
		}
		c.Send(OutgoingMessage{Type: EventAck, Payload: ack})
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg IncomingMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws handler panic event=%s: %v\n%s", msg.Type, r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	fn, ok := h.handlers[msg.Type]
	if !ok {
		return invalid("unknown event type %q", msg.Type)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return fn(ctx, c, msg.Payload)
}

// errorCode maps an error to the ack code; nil maps to "".
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, service.ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// submit runs fn in the background, or inline when no dispatcher is set.
func (h *Hub) submit(ctx context.Context, name string, fn notify.Task) {
	if h.dispatcher == nil {
		fn(context.WithoutCancel(ctx))
		return
	}
	h.dispatcher.Submit(name, fn)
}

// actingAs checks that an identity named in a payload is the connection's own.
func (c *Client) actingAs(userID string) error {
	if userID != "" && userID != c.userID {
		return invalid("user %q does not match the connection", userID)
	}
	return nil
}
