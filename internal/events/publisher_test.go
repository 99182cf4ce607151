package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/model"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", "teamchat.notifications")
	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))

	err := p.PublishNotification(context.Background(), &model.Notification{ID: "n1", UserID: "u1", Type: model.NotificationMention})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "notification.channel_mention", RoutingKey(model.NotificationChannelMention))
	assert.Equal(t, "notification.thread_reply", RoutingKey(model.NotificationThreadReply))
}
