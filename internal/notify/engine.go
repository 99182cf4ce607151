// Package notify decides who gets a notification for a new message, persists
// the records and delivers them live, falling back to Web Push.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teamchat/internal/events"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/mention"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/push"
	"github.com/teamchat/internal/storage"
)

// ErrFanout wraps every failure inside a fan-out run.
var ErrFanout = errors.New("notification fan-out failed")

// EventNewNotification is the targeted event delivered to the recipient's connections.
const EventNewNotification = "new-notification"

// Live delivers an event to the connections of one user on this process.
// It reports whether at least one connection received it.
type Live interface {
	Unicast(userID, event string, payload any) bool
}

// Pusher sends a Web Push to a user without a live connection.
type Pusher interface {
	Notify(ctx context.Context, req push.NotifyRequest) error
}

// Job describes one created entity to fan out. For a thread reply Message is
// the parent and Reply the new reply.
type Job struct {
	Message *model.Message
	Reply   *model.ThreadReply
}

type Engine struct {
	stores    storage.Stores
	resolver  *mention.Resolver
	live      Live
	pusher    Pusher
	publisher events.Publisher
	now       func() time.Time
}

func NewEngine(stores storage.Stores, resolver *mention.Resolver, live Live, pusher Pusher, publisher events.Publisher) *Engine {
	return &Engine{
		stores:    stores,
		resolver:  resolver,
		live:      live,
		pusher:    pusher,
		publisher: publisher,
		now:       time.Now,
	}
}

// Fanout runs the whole pipeline for job. Any failure is logged and yields an
// empty result; records persisted before the failure are kept.
func (e *Engine) Fanout(ctx context.Context, job Job) []model.Notification {
	defer logger.DeferLogDuration("notify.Fanout", time.Now())()
	out, err := e.fanout(ctx, job)
	if err != nil {
		metrics.IncFanoutFailure()
		logger.Errorf("notify.Fanout: %v", err)
		return nil
	}
	return out
}

// candidate is one member of the notified set. direct marks personal addressing
// (explicit mention, direct message, reply to own message).
type candidate struct {
	userID string
	direct bool
	named  bool
}

type plan struct {
	order    []string
	byUser   map[string]*candidate
	senderID string
}

func (p *plan) add(userID string, direct, named bool) {
	if userID == "" || userID == p.senderID {
		return
	}
	if c, ok := p.byUser[userID]; ok {
		c.direct = c.direct || direct
		c.named = c.named || named
		return
	}
	p.byUser[userID] = &candidate{userID: userID, direct: direct, named: named}
	p.order = append(p.order, userID)
}

func (e *Engine) fanout(ctx context.Context, job Job) ([]model.Notification, error) {
	msg := job.Message
	if msg == nil {
		return nil, fmt.Errorf("%w: no message", ErrFanout)
	}
	home, err := msg.Home()
	if err != nil {
		return nil, fmt.Errorf("%w: message %s: %v", ErrFanout, msg.ID, err)
	}

	senderID, text, sourceID := msg.SenderID, msg.Content, msg.ID
	if job.Reply != nil {
		senderID, text, sourceID = job.Reply.SenderID, job.Reply.Content, job.Reply.ID
	}

	var (
		members  []string
		orgID    = msg.OrganisationID
		roomName string
	)
	switch home.Kind {
	case model.RoomChannel:
		ch, err := e.stores.Rooms.GetChannel(ctx, home.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %s: %v", ErrFanout, home.ID, err)
		}
		members, roomName = ch.Members, ch.Name
		if orgID == "" {
			orgID = ch.OrganisationID
		}
	case model.RoomConversation:
		cv, err := e.stores.Rooms.GetConversation(ctx, home.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: conversation %s: %v", ErrFanout, home.ID, err)
		}
		if cv.IsSelf {
			return nil, nil
		}
		members = cv.Members
		if orgID == "" {
			orgID = cv.OrganisationID
		}
	}

	senderName := senderID
	if u, err := e.stores.Users.GetByID(ctx, senderID); err == nil {
		senderName = u.Name()
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: sender %s: %v", ErrFanout, senderID, err)
	}
	if home.Kind == model.RoomConversation {
		roomName = senderName
	}

	res, err := e.resolver.Resolve(ctx, text, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFanout, err)
	}

	p := &plan{byUser: make(map[string]*candidate), senderID: senderID}
	for _, id := range res.UserIDs {
		p.add(id, true, true)
	}
	if res.Channel {
		for _, id := range members {
			p.add(id, false, false)
		}
	}
	if res.Here {
		online, err := e.stores.Users.OnlineAmong(ctx, members)
		if err != nil {
			return nil, fmt.Errorf("%w: online members: %v", ErrFanout, err)
		}
		for _, id := range online {
			p.add(id, false, false)
		}
	}
	if res.Everyone && orgID != "" {
		all, err := e.stores.Users.OrgMembers(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("%w: organisation %s: %v", ErrFanout, orgID, err)
		}
		for _, id := range all {
			p.add(id, false, false)
		}
	}

	var fallback model.NotificationType
	switch {
	case job.Reply != nil:
		fallback = model.NotificationThreadReply
		p.add(msg.SenderID, true, false)
	case home.Kind == model.RoomConversation:
		fallback = model.NotificationDirectMessage
		for _, id := range members {
			p.add(id, true, false)
		}
	}

	classes := res.Classes()
	typeFor := func(c candidate) model.NotificationType {
		switch {
		case res.Broadcast():
			return model.NotificationChannelMention
		case c.named:
			return model.NotificationMention
		default:
			return fallback
		}
	}
	detail := func(t model.NotificationType) model.NotificationDetail {
		switch t {
		case model.NotificationChannelMention:
			return model.NotificationDetail{ChannelMention: &model.ChannelMentionDetail{Classes: classes, RoomName: roomName}}
		case model.NotificationMention:
			return model.NotificationDetail{Mention: &model.MentionDetail{RoomName: roomName}}
		case model.NotificationThreadReply:
			return model.NotificationDetail{ThreadReply: &model.ThreadReplyDetail{ParentMessageID: msg.ID, RoomName: roomName}}
		default:
			return model.NotificationDetail{DirectMessage: &model.DirectMessageDetail{RoomName: roomName}}
		}
	}

	out := make([]model.Notification, 0, len(p.order))
	for _, uid := range p.order {
		c := *p.byUser[uid]
		pref, err := e.stores.Preferences.Get(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("%w: preference %s: %v", ErrFanout, uid, err)
		}
		if !pref.Allows(c.direct) {
			metrics.IncSuppressed()
			continue
		}
		t := typeFor(c)

		n := model.Notification{
			ID:        uuid.NewString(),
			UserID:    uid,
			Type:      t,
			MessageID: sourceID,
			SenderID:  senderID,
			Detail:    detail(t),
			CreatedAt: e.now().UTC(),
		}
		if home.Kind == model.RoomChannel {
			n.ChannelID = home.ID
		} else {
			n.ConversationID = home.ID
		}
		if err := e.stores.Notifications.Create(ctx, &n); err != nil {
			return nil, fmt.Errorf("%w: persist for %s: %v", ErrFanout, uid, err)
		}
		metrics.IncNotification(string(t))
		e.deliver(ctx, &n, senderName, text)
		out = append(out, n)
	}
	return out, nil
}

// deliver is best effort: the persisted record is the durable copy.
func (e *Engine) deliver(ctx context.Context, n *model.Notification, senderName, text string) {
	if e.publisher != nil {
		if err := e.publisher.PublishNotification(ctx, n); err != nil {
			logger.Warnf("notify.deliver: publish %s: %v", n.ID, err)
		}
	}
	if e.live != nil && e.live.Unicast(n.UserID, EventNewNotification, n) {
		return
	}
	if e.pusher == nil {
		return
	}
	if err := e.pusher.Notify(ctx, push.FromNotification(n, senderName, text)); err != nil {
		logger.Warnf("notify.deliver: push to %s: %v", n.UserID, err)
	}
}
