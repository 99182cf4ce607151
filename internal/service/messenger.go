package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = storage.ErrNotFound
)

const (
	MaxContentLength = 10000
	// MaxEmojiLength is counted in runes and matches reactions.emoji VARCHAR(64).
	MaxEmojiLength = 64
)

// Messenger applies every state change of the real-time core and returns the
// canonical entity to broadcast. It never talks to connections.
type Messenger struct {
	stores storage.Stores
	now    func() time.Time
}

func NewMessenger(stores storage.Stores) *Messenger {
	return &Messenger{stores: stores, now: func() time.Time { return time.Now().UTC() }}
}

// Mutation is the result of an edit, delete or reaction: the room to
// broadcast to and the reloaded entity (nil after a delete).
type Mutation struct {
	Room    model.Room
	ID      string
	Message *model.Message
	Reply   *model.ThreadReply
}

// Entity returns whichever of Message or Reply is set.
func (m Mutation) Entity() any {
	if m.Reply != nil {
		return m.Reply
	}
	if m.Message != nil {
		return m.Message
	}
	return nil
}

type CreateMessageInput struct {
	SenderID       string
	Content        string
	ChannelID      string
	ConversationID string
	OrganisationID string
	Attachments    []model.Attachment
}

type ThreadReplyInput struct {
	ParentID    string
	SenderID    string
	Content     string
	Attachments []model.Attachment
}

func validateBody(content string, attachments []model.Attachment) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("%w: content longer than %d characters", ErrValidation, MaxContentLength)
	}
	for _, a := range attachments {
		if a.URL == "" {
			return fmt.Errorf("%w: attachment without url", ErrValidation)
		}
	}
	return nil
}

// CreateMessage persists a top-level message and returns it with sender info.
func (s *Messenger) CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error) {
	defer logger.DeferLogDuration("service.CreateMessage", time.Now())()
	if in.SenderID == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrValidation)
	}
	if err := validateBody(in.Content, in.Attachments); err != nil {
		return nil, err
	}
	now := s.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		SenderID:       in.SenderID,
		Content:        in.Content,
		ChannelID:      in.ChannelID,
		ConversationID: in.ConversationID,
		OrganisationID: in.OrganisationID,
		Attachments:    in.Attachments,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := msg.Home(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.stores.Messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("service.CreateMessage: %w", err)
	}
	out, err := s.stores.Messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("service.CreateMessage reload: %w", err)
	}
	return out, nil
}

// CreateThreadReply stores a reply under its parent and bumps the parent's
// reply counters. It returns the reply and the reloaded parent.
func (s *Messenger) CreateThreadReply(ctx context.Context, in ThreadReplyInput) (*model.ThreadReply, *model.Message, error) {
	defer logger.DeferLogDuration("service.CreateThreadReply", time.Now())()
	if in.ParentID == "" || in.SenderID == "" {
		return nil, nil, fmt.Errorf("%w: parent and sender are required", ErrValidation)
	}
	if err := validateBody(in.Content, in.Attachments); err != nil {
		return nil, nil, err
	}
	if _, err := s.stores.Messages.GetByID(ctx, in.ParentID); err != nil {
		return nil, nil, fmt.Errorf("service.CreateThreadReply parent: %w", err)
	}
	now := s.now()
	reply := &model.ThreadReply{
		ID:          uuid.NewString(),
		ParentID:    in.ParentID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		Attachments: in.Attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.stores.ThreadReplies.Create(ctx, reply); err != nil {
		return nil, nil, fmt.Errorf("service.CreateThreadReply: %w", err)
	}
	if err := s.stores.Messages.BumpThread(ctx, in.ParentID, now); err != nil {
		return nil, nil, fmt.Errorf("service.CreateThreadReply bump: %w", err)
	}
	out, err := s.stores.ThreadReplies.GetByID(ctx, reply.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("service.CreateThreadReply reload: %w", err)
	}
	parent, err := s.stores.Messages.GetByID(ctx, in.ParentID)
	if err != nil {
		return nil, nil, fmt.Errorf("service.CreateThreadReply reload parent: %w", err)
	}
	return out, parent, nil
}

// ThreadParent loads the message whose thread is being opened.
func (s *Messenger) ThreadParent(ctx context.Context, parentID string) (*model.Message, error) {
	if parentID == "" {
		return nil, fmt.Errorf("%w: parent id is required", ErrValidation)
	}
	m, err := s.stores.Messages.GetByID(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("service.ThreadParent: %w", err)
	}
	return m, nil
}

// load resolves the target and the room it broadcasts to.
func (s *Messenger) load(ctx context.Context, id string, isThread bool) (Mutation, error) {
	if id == "" {
		return Mutation{}, fmt.Errorf("%w: id is required", ErrValidation)
	}
	if isThread {
		r, err := s.stores.ThreadReplies.GetByID(ctx, id)
		if err != nil {
			return Mutation{}, err
		}
		return Mutation{Room: r.Room(), ID: id, Reply: r}, nil
	}
	m, err := s.stores.Messages.GetByID(ctx, id)
	if err != nil {
		return Mutation{}, err
	}
	room, err := m.Home()
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Room: room, ID: id, Message: m}, nil
}

func (s *Messenger) reload(ctx context.Context, mu Mutation) (Mutation, error) {
	if mu.Reply != nil {
		r, err := s.stores.ThreadReplies.GetByID(ctx, mu.ID)
		if err != nil {
			return Mutation{}, err
		}
		mu.Reply = r
		return mu, nil
	}
	m, err := s.stores.Messages.GetByID(ctx, mu.ID)
	if err != nil {
		return Mutation{}, err
	}
	mu.Message = m
	return mu, nil
}

// Edit replaces the body of a message or thread reply.
func (s *Messenger) Edit(ctx context.Context, id, content string, isThread bool) (Mutation, error) {
	defer logger.DeferLogDuration("service.Edit", time.Now())()
	if strings.TrimSpace(content) == "" {
		return Mutation{}, fmt.Errorf("%w: new content is empty", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return Mutation{}, fmt.Errorf("%w: content longer than %d characters", ErrValidation, MaxContentLength)
	}
	mu, err := s.load(ctx, id, isThread)
	if err != nil {
		return Mutation{}, fmt.Errorf("service.Edit: %w", err)
	}
	if isThread {
		err = s.stores.ThreadReplies.UpdateContent(ctx, id, content, s.now())
	} else {
		err = s.stores.Messages.UpdateContent(ctx, id, content, s.now())
	}
	if err != nil {
		return Mutation{}, fmt.Errorf("service.Edit: %w", err)
	}
	if mu, err = s.reload(ctx, mu); err != nil {
		return Mutation{}, fmt.Errorf("service.Edit reload: %w", err)
	}
	return mu, nil
}

// Delete removes a message or reply for good. The returned mutation keeps the
// room and id; the entity fields are nil.
func (s *Messenger) Delete(ctx context.Context, id string, isThread bool) (Mutation, error) {
	defer logger.DeferLogDuration("service.Delete", time.Now())()
	mu, err := s.load(ctx, id, isThread)
	if err != nil {
		return Mutation{}, fmt.Errorf("service.Delete: %w", err)
	}
	if isThread {
		err = s.stores.ThreadReplies.Delete(ctx, id)
	} else {
		err = s.stores.Messages.Delete(ctx, id)
	}
	if err != nil {
		return Mutation{}, fmt.Errorf("service.Delete: %w", err)
	}
	mu.Message, mu.Reply = nil, nil
	return mu, nil
}

// React toggles userID in the reactor set of emoji on the target.
func (s *Messenger) React(ctx context.Context, id, emoji, userID string, isThread bool) (Mutation, bool, error) {
	defer logger.DeferLogDuration("service.React", time.Now())()
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > MaxEmojiLength {
		return Mutation{}, false, fmt.Errorf("%w: bad emoji", ErrValidation)
	}
	if userID == "" {
		return Mutation{}, false, fmt.Errorf("%w: user is required", ErrValidation)
	}
	mu, err := s.load(ctx, id, isThread)
	if err != nil {
		return Mutation{}, false, fmt.Errorf("service.React: %w", err)
	}
	added, err := s.stores.Reactions.Toggle(ctx, id, emoji, userID)
	if err != nil {
		return Mutation{}, false, fmt.Errorf("service.React: %w", err)
	}
	if mu, err = s.reload(ctx, mu); err != nil {
		return Mutation{}, false, fmt.Errorf("service.React reload: %w", err)
	}
	return mu, added, nil
}

// MarkViewed sets the read flag on a message or reply.
func (s *Messenger) MarkViewed(ctx context.Context, id string, isThread bool) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	var err error
	if isThread {
		err = s.stores.ThreadReplies.MarkRead(ctx, id)
	} else {
		err = s.stores.Messages.MarkRead(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("service.MarkViewed: %w", err)
	}
	return nil
}

// MarkFirstOfDay flags msg when nothing earlier was posted in its room that
// UTC day. It returns the reloaded message and whether the flag was set.
func (s *Messenger) MarkFirstOfDay(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	earlier, err := s.stores.Messages.HasEarlierInDay(ctx, msg)
	if err != nil {
		return nil, false, fmt.Errorf("service.MarkFirstOfDay: %w", err)
	}
	if earlier {
		return msg, false, nil
	}
	if err := s.stores.Messages.SetFirstOfDay(ctx, msg.ID); err != nil {
		return nil, false, fmt.Errorf("service.MarkFirstOfDay: %w", err)
	}
	out, err := s.stores.Messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, false, fmt.Errorf("service.MarkFirstOfDay reload: %w", err)
	}
	return out, true, nil
}
