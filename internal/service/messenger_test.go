package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage/memory"
)

func newMessenger(t *testing.T) (*Messenger, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.AddUser(model.User{ID: "u1", Username: "alice", DisplayName: "Alice"})
	st.AddUser(model.User{ID: "u2", Username: "bob"})
	st.AddUser(model.User{ID: "u3", Username: "carol"})
	st.AddChannel(model.Channel{ID: "c1", OrganisationID: "org", Name: "general", Members: []string{"u1", "u2", "u3"}})
	st.AddConversation(model.Conversation{ID: "v1", Members: []string{"u1", "u2"}})
	return NewMessenger(st.Stores()), st
}

func post(t *testing.T, s *Messenger, content string) *model.Message {
	t.Helper()
	m, err := s.CreateMessage(context.Background(), CreateMessageInput{SenderID: "u1", Content: content, ChannelID: "c1"})
	require.NoError(t, err)
	return m
}

func TestCreateMessage(t *testing.T) {
	s, _ := newMessenger(t)
	m := post(t, s, "hello")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "c1", m.ChannelID)
	require.NotNil(t, m.Sender)
	assert.Equal(t, "Alice", m.Sender.DisplayName)
	assert.Empty(t, m.Reactions)
}

func TestCreateMessageValidation(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	cases := []CreateMessageInput{
		{SenderID: "u1", Content: "  ", ChannelID: "c1"},
		{SenderID: "", Content: "x", ChannelID: "c1"},
		{SenderID: "u1", Content: "x"},
		{SenderID: "u1", Content: "x", ChannelID: "c1", ConversationID: "v1"},
		{SenderID: "u1", ChannelID: "c1", Attachments: []model.Attachment{{Name: "no-url"}}},
	}
	for _, in := range cases {
		_, err := s.CreateMessage(ctx, in)
		assert.ErrorIs(t, err, ErrValidation, "%+v", in)
	}

	m, err := s.CreateMessage(ctx, CreateMessageInput{SenderID: "u1", ConversationID: "v1",
		Attachments: []model.Attachment{{URL: "/files/a.png", Name: "a.png"}}})
	require.NoError(t, err)
	assert.Len(t, m.Attachments, 1)
}

func TestReactToggleIsIdempotent(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	m := post(t, s, "react to me")

	mu, added, err := s.React(ctx, m.ID, "😀", "u2", false)
	require.NoError(t, err)
	assert.True(t, added)
	require.Len(t, mu.Message.Reactions, 1)
	assert.Equal(t, []string{"u2"}, mu.Message.Reactions[0].ReactedBy)
	assert.Equal(t, model.Room{Kind: model.RoomChannel, ID: "c1"}, mu.Room)

	mu, added, err = s.React(ctx, m.ID, "😀", "u2", false)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, mu.Message.Reactions)
	assert.Nil(t, model.FindReaction(mu.Message.Reactions, "😀"))
}

func TestReactSecondUserJoinsSetAndRemovalKeepsOthers(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	m := post(t, s, "x")

	_, _, err := s.React(ctx, m.ID, "👍", "u2", false)
	require.NoError(t, err)
	mu, _, err := s.React(ctx, m.ID, "👍", "u3", false)
	require.NoError(t, err)
	r := model.FindReaction(mu.Message.Reactions, "👍")
	require.NotNil(t, r)
	assert.ElementsMatch(t, []string{"u2", "u3"}, r.ReactedBy)

	mu, _, err = s.React(ctx, m.ID, "👍", "u2", false)
	require.NoError(t, err)
	r = model.FindReaction(mu.Message.Reactions, "👍")
	require.NotNil(t, r)
	assert.Equal(t, []string{"u3"}, r.ReactedBy)
}

func TestReactNotFoundAndValidation(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	_, _, err := s.React(ctx, "missing", "😀", "u2", false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.React(ctx, "missing", "😀", "u2", true)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.React(ctx, "m", "", "u2", false)
	assert.ErrorIs(t, err, ErrValidation)
	_, _, err = s.React(ctx, "m", strings.Repeat("👍", MaxEmojiLength+1), "u2", false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReactEmojiLimitIsRunes(t *testing.T) {
	s, _ := newMessenger(t)
	m := post(t, s, "x")
	mu, added, err := s.React(context.Background(), m.ID, strings.Repeat("👍", MaxEmojiLength), "u2", false)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, mu.Message.Reactions, 1)
}

func TestThreadParent(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	m := post(t, s, "parent")
	got, err := s.ThreadParent(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = s.ThreadParent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ThreadParent(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateMessageUnknownRoom(t *testing.T) {
	s, _ := newMessenger(t)
	_, err := s.CreateMessage(context.Background(), CreateMessageInput{SenderID: "u1", Content: "x", ChannelID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditKeepsIdentityAndRelations(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	m := post(t, s, "first")
	_, _, err := s.React(ctx, m.ID, "🎉", "u2", false)
	require.NoError(t, err)
	_, _, err = s.CreateThreadReply(ctx, ThreadReplyInput{ParentID: m.ID, SenderID: "u2", Content: "reply"})
	require.NoError(t, err)

	mu, err := s.Edit(ctx, m.ID, "second", false)
	require.NoError(t, err)
	assert.Equal(t, m.ID, mu.Message.ID)
	assert.Equal(t, "second", mu.Message.Content)
	assert.Len(t, mu.Message.Reactions, 1)
	assert.Equal(t, 1, mu.Message.ThreadReplyCount)
	assert.Equal(t, mu.Message, mu.Entity())

	_, err = s.Edit(ctx, "missing", "x", false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Edit(ctx, m.ID, " ", false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestThreadReplyLifecycle(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	m := post(t, s, "parent")

	reply, parent, err := s.CreateThreadReply(ctx, ThreadReplyInput{ParentID: m.ID, SenderID: "u2", Content: "one"})
	require.NoError(t, err)
	assert.Equal(t, m.ID, reply.ParentID)
	assert.Equal(t, model.Room{Kind: model.RoomThread, ID: m.ID}, reply.Room())
	assert.Equal(t, 1, parent.ThreadReplyCount)
	require.NotNil(t, parent.ThreadLastReplyAt)

	_, parent, err = s.CreateThreadReply(ctx, ThreadReplyInput{ParentID: m.ID, SenderID: "u3", Content: "two"})
	require.NoError(t, err)
	assert.Equal(t, 2, parent.ThreadReplyCount)

	mu, added, err := s.React(ctx, reply.ID, "😀", "u1", true)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, mu.Reply.Reactions, 1)
	assert.Equal(t, model.Room{Kind: model.RoomThread, ID: m.ID}, mu.Room)

	mu, err = s.Edit(ctx, reply.ID, "edited", true)
	require.NoError(t, err)
	assert.Equal(t, "edited", mu.Reply.Content)

	require.NoError(t, s.MarkViewed(ctx, reply.ID, true))

	mu, err = s.Delete(ctx, reply.ID, true)
	require.NoError(t, err)
	assert.Nil(t, mu.Entity())
	assert.Equal(t, reply.ID, mu.ID)
	_, err = s.Delete(ctx, reply.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.CreateThreadReply(ctx, ThreadReplyInput{ParentID: "missing", SenderID: "u2", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMessage(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	m := post(t, s, "bye")

	mu, err := s.Delete(ctx, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.Room{Kind: model.RoomChannel, ID: "c1"}, mu.Room)
	assert.ErrorIs(t, s.MarkViewed(ctx, m.ID, false), ErrNotFound)
}

func TestMarkFirstOfDay(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day }
	first := post(t, s, "morning")
	s.now = func() time.Time { return day.Add(time.Hour) }
	second := post(t, s, "later")

	out, ok, err := s.MarkFirstOfDay(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, out.IsFirstOfDay)

	_, ok, err = s.MarkFirstOfDay(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)

	s.now = func() time.Time { return day.Add(24 * time.Hour) }
	next := post(t, s, "next day")
	_, ok, err = s.MarkFirstOfDay(ctx, next)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenRoomAndRecomputeUnopened(t *testing.T) {
	s, _ := newMessenger(t)
	ctx := context.Background()
	room := model.Room{Kind: model.RoomChannel, ID: "c1"}

	st, err := s.RecomputeUnopened(ctx, room, "u1", nil, []string{"u3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, st.Channel.HasNotOpen)

	st, err = s.RecomputeUnopened(ctx, room, "u1", []string{"u1", "u2", "u3", "stranger"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, st.Channel.HasNotOpen)

	st, err = s.OpenRoom(ctx, room, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, st.Channel.HasNotOpen)
	assert.Equal(t, st.Channel, st.Entity())

	_, err = s.OpenRoom(ctx, model.Room{Kind: model.RoomChannel, ID: "nope"}, "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecomputeSkipsSelfConversation(t *testing.T) {
	st := memory.New()
	st.AddConversation(model.Conversation{ID: "self", Members: []string{"u1"}, IsSelf: true, HasNotOpen: []string{"u1"}})
	s := NewMessenger(st.Stores())

	rs, err := s.RecomputeUnopened(context.Background(), model.Room{Kind: model.RoomConversation, ID: "self"}, "u1", nil, nil)
	require.NoError(t, err)
	assert.True(t, rs.IsSelf())
	assert.Equal(t, []string{"u1"}, rs.Conversation.HasNotOpen)
}

func TestSetPresence(t *testing.T) {
	s, st := newMessenger(t)
	ctx := context.Background()
	require.NoError(t, s.SetPresence(ctx, "u2", true))
	online, err := st.Stores().Users.OnlineAmong(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, online)
	assert.ErrorIs(t, s.SetPresence(ctx, "ghost", true), ErrNotFound)
}
