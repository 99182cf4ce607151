package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/relay"
)

var ErrTooManyConnections = errors.New("connection limit reached")

// Registry maps users to live connections and rooms to joined connections.
// Every broadcast is also published on the relay so other processes deliver
// it to their own connections.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[model.Room]map[*Client]struct{}
	joined   map[*Client]map[model.Room]struct{}
	total    int
	maxConns int

	relay relay.Relay
}

func NewRegistry(maxConns int, rl relay.Relay) *Registry {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Registry{
		clients:  make(map[string]map[*Client]struct{}),
		rooms:    make(map[model.Room]map[*Client]struct{}),
		joined:   make(map[*Client]map[model.Room]struct{}),
		maxConns: maxConns,
		relay:    rl,
	}
}

// Add registers c. It reports whether c is the user's first connection.
func (r *Registry) Add(c *Client) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total >= r.maxConns {
		return false, ErrTooManyConnections
	}
	set, ok := r.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		r.clients[c.userID] = set
	}
	if _, dup := set[c]; dup {
		return false, nil
	}
	set[c] = struct{}{}
	r.total++
	metrics.IncWSActive()
	return len(set) == 1, nil
}

// Remove drops c and all its room memberships. It reports whether the user
// has no connection left.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.clients[c.userID]
	if !ok {
		return false
	}
	if _, exists := set[c]; !exists {
		return false
	}
	delete(set, c)
	r.total--
	metrics.DecWSActive()
	for room := range r.joined[c] {
		r.leaveLocked(c, room)
	}
	delete(r.joined, c)
	if len(set) == 0 {
		delete(r.clients, c.userID)
		return true
	}
	return false
}

// Join puts c into room. It reports false if c was already joined.
func (r *Registry) Join(c *Client, room model.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.userID][c]; !ok {
		return false
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	if _, dup := members[c]; dup {
		return false
	}
	members[c] = struct{}{}
	rooms, ok := r.joined[c]
	if !ok {
		rooms = make(map[model.Room]struct{})
		r.joined[c] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave takes c out of room. It reports false if c was not joined.
func (r *Registry) Leave(c *Client, room model.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room][c]; !ok {
		return false
	}
	r.leaveLocked(c, room)
	return true
}

func (r *Registry) leaveLocked(c *Client, room model.Room) {
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.joined[c]; ok {
		delete(rooms, room)
	}
}

// Joined reports whether c is in room.
func (r *Registry) Joined(c *Client, room model.Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

// UsersIn returns the distinct users with at least one local connection in room.
func (r *Registry) UsersIn(room model.Room) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.rooms[room]))
	out := make([]string, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		if _, ok := seen[c.userID]; ok {
			continue
		}
		seen[c.userID] = struct{}{}
		out = append(out, c.userID)
	}
	return out
}

// Route returns the live connections of userID on this process.
func (r *Registry) Route(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.clients[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Count is the number of live connections on this process.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func (r *Registry) roomTargets(room model.Room, excludeUser string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		if excludeUser != "" && c.userID == excludeUser {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Registry) allTargets() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, r.total)
	for _, set := range r.clients {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast sends event to every connection joined to room.
func (r *Registry) Broadcast(room model.Room, event EventType, payload any) {
	r.BroadcastExcept(room, "", event, payload)
}

// BroadcastExcept is Broadcast skipping the connections of excludeUser.
func (r *Registry) BroadcastExcept(room model.Room, excludeUser string, event EventType, payload any) {
	msg := OutgoingMessage{Type: event, Payload: payload}
	for _, c := range r.roomTargets(room, excludeUser) {
		c.Send(msg)
	}
	r.publish(relay.Envelope{Scope: relay.ScopeRoom, Target: roomKey(room), Exclude: excludeUser, Event: string(event)}, payload)
}

// Unicast sends event to every connection of userID. It reports whether a
// local connection received it; an offline user is not an error.
func (r *Registry) Unicast(userID, event string, payload any) bool {
	msg := OutgoingMessage{Type: EventType(event), Payload: payload}
	targets := r.Route(userID)
	for _, c := range targets {
		c.Send(msg)
	}
	r.publish(relay.Envelope{Scope: relay.ScopeUser, Target: userID, Event: event}, payload)
	return len(targets) > 0
}

// BroadcastAll sends event to every connection.
func (r *Registry) BroadcastAll(event EventType, payload any) {
	msg := OutgoingMessage{Type: event, Payload: payload}
	for _, c := range r.allTargets() {
		c.Send(msg)
	}
	r.publish(relay.Envelope{Scope: relay.ScopeAll, Event: string(event)}, payload)
}

func (r *Registry) publish(env relay.Envelope, payload any) {
	if r.relay == nil {
		return
	}
	if _, local := r.relay.(*relay.Local); local {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("ws relay marshal event=%s: %v", env.Event, err)
		return
	}
	env.Payload = data
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.relay.Publish(ctx, env); err != nil {
		logger.Errorf("ws relay publish event=%s: %v", env.Event, err)
	}
}

// Deliver hands an envelope from another process to the local connections.
func (r *Registry) Deliver(env relay.Envelope) {
	msg := OutgoingMessage{Type: EventType(env.Event), Payload: env.Payload}
	var targets []*Client
	switch env.Scope {
	case relay.ScopeRoom:
		room, ok := parseRoomKey(env.Target)
		if !ok {
			logger.Warnf("ws relay: bad room %q", env.Target)
			return
		}
		targets = r.roomTargets(room, env.Exclude)
	case relay.ScopeUser:
		targets = r.Route(env.Target)
	case relay.ScopeAll:
		targets = r.allTargets()
	default:
		logger.Warnf("ws relay: unknown scope %q", env.Scope)
		return
	}
	for _, c := range targets {
		c.Send(msg)
	}
}

// RunRelay delivers remote envelopes until ctx is done.
func (r *Registry) RunRelay(ctx context.Context) {
	if r.relay == nil {
		return
	}
	if err := r.relay.Run(ctx, r.Deliver); err != nil && ctx.Err() == nil {
		metrics.IncRelayError("subscribe")
		logger.Errorf("ws relay stopped: %v", err)
	}
}

// CloseAll unregisters and closes every connection, then waits for the pumps.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Client, 0, r.total)
	for _, set := range r.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	for range all {
		metrics.DecWSActive()
	}
	r.clients = make(map[string]map[*Client]struct{})
	r.rooms = make(map[model.Room]map[*Client]struct{})
	r.joined = make(map[*Client]map[model.Room]struct{})
	r.total = 0
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func roomKey(room model.Room) string {
	return string(room.Kind) + ":" + room.ID
}

func parseRoomKey(s string) (model.Room, bool) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return model.Room{}, false
	}
	switch k := model.RoomKind(kind); k {
	case model.RoomChannel, model.RoomConversation, model.RoomThread, model.RoomPlain:
		return model.Room{Kind: k, ID: id}, true
	}
	return model.Room{}, false
}
