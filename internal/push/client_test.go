package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/model"
)

func TestNotifyPostsToPushService(t *testing.T) {
	var got NotifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	require.True(t, c.Enabled())
	require.NoError(t, c.Notify(context.Background(), NotifyRequest{UserID: "u1", Title: "t", Body: "b"}))
	assert.Equal(t, "u1", got.UserID)
}

func TestNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Notify(context.Background(), NotifyRequest{UserID: "u1"})
	assert.Error(t, err)
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient("")
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Notify(context.Background(), NotifyRequest{}))
	assert.NoError(t, c.Unsubscribe(context.Background(), "u", "e"))
}

func TestFromNotification(t *testing.T) {
	n := &model.Notification{
		ID: "n1", UserID: "u1", Type: model.NotificationChannelMention, MessageID: "m1", ChannelID: "c1",
		Detail: model.NotificationDetail{ChannelMention: &model.ChannelMentionDetail{
			Classes: []model.BroadcastClass{model.BroadcastHere}, RoomName: "general",
		}},
	}
	req := FromNotification(n, "Alice", strings.Repeat("x", 200))
	assert.Equal(t, "Alice notified the channel in general", req.Title)
	assert.Equal(t, 121, len([]rune(req.Body)))
	assert.Equal(t, "c1", req.Data["channel_id"])
	assert.NotContains(t, req.Data, "conversation_id")

	dm := &model.Notification{ID: "n2", UserID: "u2", Type: model.NotificationDirectMessage, ConversationID: "v1",
		Detail: model.NotificationDetail{DirectMessage: &model.DirectMessageDetail{RoomName: "Alice"}}}
	assert.Equal(t, "Alice", FromNotification(dm, "Alice", "hi").Title)
}
