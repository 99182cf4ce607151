package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisHandleSkipsOwnEnvelopes(t *testing.T) {
	r := NewRedis(nil, "", "node-a")
	assert.Equal(t, DefaultChannel, r.channel)

	var got []Envelope
	deliver := func(e Envelope) { got = append(got, e) }

	own, err := json.Marshal(Envelope{Origin: "node-a", Scope: ScopeAll, Event: "user-join", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	r.handle(own, deliver)
	assert.Empty(t, got)

	remote, err := json.Marshal(Envelope{Origin: "node-b", Scope: ScopeRoom, Target: "c1", Event: "message", Payload: json.RawMessage(`{"id":"m1"}`)})
	require.NoError(t, err)
	r.handle(remote, deliver)
	require.Len(t, got, 1)
	assert.Equal(t, ScopeRoom, got[0].Scope)
	assert.Equal(t, "c1", got[0].Target)
	assert.JSONEq(t, `{"id":"m1"}`, string(got[0].Payload))

	r.handle([]byte("not json"), deliver)
	assert.Len(t, got, 1)
}

func TestLocalRunReturnsOnCancel(t *testing.T) {
	l := NewLocal("n1")
	require.NoError(t, l.Publish(context.Background(), Envelope{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx, func(Envelope) { t.Error("local relay never delivers") })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
