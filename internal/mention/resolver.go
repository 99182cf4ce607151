// Package mention turns message text into a recipient-intent set: explicitly
// mentioned users plus the three broadcast classes (@channel, @here, @everyone).
package mention

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

var tokenRe = regexp.MustCompile(`@(\w+)`)

// Result is produced fresh per message and never persisted.
type Result struct {
	UserIDs  []string
	Channel  bool
	Here     bool
	Everyone bool
}

// Broadcast reports whether any broadcast class fired.
func (r Result) Broadcast() bool { return r.Channel || r.Here || r.Everyone }

// Classes lists the broadcast classes that fired, in a fixed order.
func (r Result) Classes() []model.BroadcastClass {
	var out []model.BroadcastClass
	if r.Channel {
		out = append(out, model.BroadcastChannel)
	}
	if r.Here {
		out = append(out, model.BroadcastHere)
	}
	if r.Everyone {
		out = append(out, model.BroadcastEveryone)
	}
	return out
}

// Named reports whether userID was mentioned explicitly.
func (r Result) Named(userID string) bool {
	for _, id := range r.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UserLookup is the subset of storage.Users the resolver reads.
type UserLookup interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	IsOrgMember(ctx context.Context, orgID, userID string) (bool, error)
}

type Resolver struct {
	users UserLookup
}

func NewResolver(users UserLookup) *Resolver {
	return &Resolver{users: users}
}

// Tokens returns the case-folded @tokens of body in order of first appearance.
func Tokens(body string) []string {
	matches := tokenRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tok := strings.ToLower(m[1])
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Resolve scans body and resolves usernames. With an empty orgID every matched
// user is included; otherwise only organisation members are. Unknown usernames are ignored.
func (r *Resolver) Resolve(ctx context.Context, body, orgID string) (Result, error) {
	defer logger.DeferLogDuration("mention.Resolve", time.Now())()
	var res Result
	if body == "" {
		return res, nil
	}
	ids := make(map[string]struct{})
	for _, tok := range Tokens(body) {
		switch model.BroadcastClass(tok) {
		case model.BroadcastChannel:
			res.Channel = true
			continue
		case model.BroadcastHere:
			res.Here = true
			continue
		case model.BroadcastEveryone:
			res.Everyone = true
			continue
		}

		u, err := r.users.FindByUsername(ctx, tok)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("mention.Resolve %q: %w", tok, err)
		}
		if orgID != "" {
			member, err := r.users.IsOrgMember(ctx, orgID, u.ID)
			if err != nil {
				return Result{}, fmt.Errorf("mention.Resolve membership %q: %w", tok, err)
			}
			if !member {
				continue
			}
		}
		if _, dup := ids[u.ID]; dup {
			continue
		}
		ids[u.ID] = struct{}{}
		res.UserIDs = append(res.UserIDs, u.ID)
	}
	return res, nil
}
