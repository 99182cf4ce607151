// Package relay carries broadcasts between api processes so that room, user and
// global events reach connections held by any process.
package relay

import (
	"context"
	"encoding/json"
)

type Scope string

const (
	ScopeRoom Scope = "room"
	ScopeUser Scope = "user"
	ScopeAll  Scope = "all"
)

// Envelope is one relayed broadcast. Payload is the already-encoded event payload.
type Envelope struct {
	Origin  string          `json:"origin"`
	Scope   Scope           `json:"scope"`
	Target  string          `json:"target,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Relay publishes envelopes produced locally and hands remote ones to deliver.
type Relay interface {
	NodeID() string
	Publish(ctx context.Context, env Envelope) error
	// Run blocks until ctx is done, calling deliver for every envelope from another node.
	Run(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// Local is the single-process relay: nothing to publish, nothing to receive.
type Local struct {
	id string
}

func NewLocal(nodeID string) *Local { return &Local{id: nodeID} }

func (l *Local) NodeID() string { return l.id }

func (l *Local) Publish(ctx context.Context, env Envelope) error { return nil }

func (l *Local) Run(ctx context.Context, deliver func(Envelope)) error {
	<-ctx.Done()
	return nil
}

func (l *Local) Close() error { return nil }
