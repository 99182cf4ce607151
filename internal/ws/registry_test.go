package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/relay"
)

func testClient(userID string) *Client {
	return NewClient(nil, nil, userID, ClientConfig{SendBuffer: 64})
}

// drain returns everything queued for c without blocking.
func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func eventTypes(msgs []OutgoingMessage) []EventType {
	out := make([]EventType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func closed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

var roomC1 = model.Room{Kind: model.RoomChannel, ID: "c1"}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry(10, nil)
	a1, a2 := testClient("a"), testClient("a")

	first, err := r.Add(a1)
	require.NoError(t, err)
	assert.True(t, first)
	first, err = r.Add(a2)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Len(t, r.Route("a"), 2)
	assert.Equal(t, 2, r.Count())

	assert.False(t, r.Remove(a1))
	assert.True(t, r.Remove(a2))
	assert.False(t, r.Remove(a2))
	assert.Empty(t, r.Route("a"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistryConnectionLimit(t *testing.T) {
	r := NewRegistry(1, nil)
	_, err := r.Add(testClient("a"))
	require.NoError(t, err)
	_, err = r.Add(testClient("b"))
	assert.ErrorIs(t, err, ErrTooManyConnections)
}

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry(10, nil)
	a, b, c := testClient("a"), testClient("b"), testClient("c")
	for _, cl := range []*Client{a, b, c} {
		_, err := r.Add(cl)
		require.NoError(t, err)
	}

	assert.True(t, r.Join(a, roomC1))
	assert.False(t, r.Join(a, roomC1))
	assert.True(t, r.Join(b, roomC1))
	assert.False(t, r.Join(testClient("stranger"), roomC1), "unregistered clients cannot join")
	assert.ElementsMatch(t, []string{"a", "b"}, r.UsersIn(roomC1))

	r.Broadcast(roomC1, EventMessage, "hi")
	assert.Equal(t, []EventType{EventMessage}, eventTypes(drain(a)))
	assert.Equal(t, []EventType{EventMessage}, eventTypes(drain(b)))
	assert.Empty(t, drain(c))

	r.BroadcastExcept(roomC1, "a", EventOffer, "sdp")
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)

	assert.True(t, r.Leave(a, roomC1))
	assert.False(t, r.Leave(a, roomC1))
	assert.False(t, r.Joined(a, roomC1))

	r.Remove(b)
	assert.Empty(t, r.UsersIn(roomC1), "disconnect leaves every room")
}

func TestRegistryUnicastAndBroadcastAll(t *testing.T) {
	r := NewRegistry(10, nil)
	a, b := testClient("a"), testClient("b")
	_, _ = r.Add(a)
	_, _ = r.Add(b)

	assert.True(t, r.Unicast("a", "new-notification", 1))
	assert.False(t, r.Unicast("offline", "new-notification", 1))
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))

	r.BroadcastAll(EventUserJoin, PresencePayload{ID: "a", IsOnline: true})
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestSlowClientIsClosed(t *testing.T) {
	r := NewRegistry(10, nil)
	c := NewClient(nil, nil, "a", ClientConfig{SendBuffer: 1})
	_, _ = r.Add(c)

	r.Unicast("a", "x", 1)
	assert.False(t, closed(c))
	r.Unicast("a", "x", 2)
	assert.True(t, closed(c))
	// sends after close are dropped quietly
	r.Unicast("a", "x", 3)
	assert.Len(t, drain(c), 1)
}

type captureRelay struct {
	mu   sync.Mutex
	envs []relay.Envelope
}

func (f *captureRelay) NodeID() string { return "node-a" }

func (f *captureRelay) Publish(ctx context.Context, env relay.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs = append(f.envs, env)
	return nil
}

func (f *captureRelay) Run(ctx context.Context, deliver func(relay.Envelope)) error {
	<-ctx.Done()
	return nil
}

func (f *captureRelay) Close() error { return nil }

func TestRegistryPublishesToRelay(t *testing.T) {
	rl := &captureRelay{}
	r := NewRegistry(10, rl)

	r.BroadcastExcept(roomC1, "a", EventOffer, map[string]string{"k": "v"})
	r.Unicast("b", "new-notification", 1)
	r.BroadcastAll(EventUserLeave, PresencePayload{ID: "a"})

	require.Len(t, rl.envs, 3)
	assert.Equal(t, relay.ScopeRoom, rl.envs[0].Scope)
	assert.Equal(t, "channel:c1", rl.envs[0].Target)
	assert.Equal(t, "a", rl.envs[0].Exclude)
	assert.JSONEq(t, `{"k":"v"}`, string(rl.envs[0].Payload))
	assert.Equal(t, relay.ScopeUser, rl.envs[1].Scope)
	assert.Equal(t, "b", rl.envs[1].Target)
	assert.Equal(t, relay.ScopeAll, rl.envs[2].Scope)
	assert.Equal(t, string(EventUserLeave), rl.envs[2].Event)
}

func TestRegistryDeliverRemoteEnvelopes(t *testing.T) {
	r := NewRegistry(10, relay.NewLocal("n1"))
	a, b := testClient("a"), testClient("b")
	_, _ = r.Add(a)
	_, _ = r.Add(b)
	r.Join(a, roomC1)
	r.Join(b, roomC1)

	payload := json.RawMessage(`{"id":"m1"}`)
	r.Deliver(relay.Envelope{Scope: relay.ScopeRoom, Target: "channel:c1", Exclude: "b", Event: "message", Payload: payload})
	msgs := drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventMessage, msgs[0].Type)
	assert.Equal(t, payload, msgs[0].Payload)
	assert.Empty(t, drain(b))

	r.Deliver(relay.Envelope{Scope: relay.ScopeUser, Target: "b", Event: "new-notification", Payload: payload})
	assert.Len(t, drain(b), 1)

	r.Deliver(relay.Envelope{Scope: relay.ScopeAll, Event: "user-join", Payload: payload})
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)

	r.Deliver(relay.Envelope{Scope: relay.ScopeRoom, Target: "bogus", Event: "message"})
	r.Deliver(relay.Envelope{Scope: "weird", Event: "message"})
	assert.Empty(t, drain(a))
}

func TestRoomKeyRoundTrip(t *testing.T) {
	for _, room := range []model.Room{
		roomC1,
		{Kind: model.RoomConversation, ID: "v1"},
		{Kind: model.RoomThread, ID: "m:1"},
		{Kind: model.RoomPlain, ID: "call-7"},
	} {
		got, ok := parseRoomKey(roomKey(room))
		require.True(t, ok)
		assert.Equal(t, room, got)
	}
	_, ok := parseRoomKey("unknown:x")
	assert.False(t, ok)
	_, ok = parseRoomKey("channel:")
	assert.False(t, ok)
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(10, nil)
	a, b := testClient("a"), testClient("b")
	_, _ = r.Add(a)
	_, _ = r.Add(b)
	r.Join(a, roomC1)

	r.CloseAll()
	assert.True(t, closed(a))
	assert.True(t, closed(b))
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.UsersIn(roomC1))
}
