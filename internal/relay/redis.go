package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
	redisstorage "github.com/teamchat/internal/storage/redis"
)

const DefaultChannel = "teamchat:ws:relay"

// Redis relays envelopes over one pub/sub channel shared by every api process.
type Redis struct {
	cli     *redisstorage.Client
	channel string
	id      string
}

func NewRedis(cli *redisstorage.Client, channel, nodeID string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{cli: cli, channel: channel, id: nodeID}
}

func (r *Redis) NodeID() string { return r.id }

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	env.Origin = r.id
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay.Publish marshal: %w", err)
	}
	if err := r.cli.Publish(ctx, r.channel, data); err != nil {
		metrics.IncRelayError("publish")
		return err
	}
	return nil
}

func (r *Redis) Run(ctx context.Context, deliver func(Envelope)) error {
	ps, err := r.cli.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer ps.Close()
	logger.Infof("relay: subscribed channel=%s node=%s", r.channel, r.id)

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle([]byte(m.Payload), deliver)
		}
	}
}

// handle decodes one pub/sub payload and drops envelopes this node published.
func (r *Redis) handle(data []byte, deliver func(Envelope)) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.IncRelayError("decode")
		logger.Errorf("relay: bad envelope: %v", err)
		return
	}
	if env.Origin == r.id {
		return
	}
	deliver(env)
}

func (r *Redis) Close() error { return r.cli.Close() }
