package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/vedran77/ripple/internal/domain"
	"github.com/vedran77/ripple/internal/store"
)

var ErrCannotDMSelf = errors.New("cannot start a conversation with yourself")

// DMResolver derives the canonical conversation for a pair of users and
// materializes it on first use. Both participants can race Resolve for the
// same pair; the conditional create guarantees at most one document and the
// loser converges on the winner's.
type DMResolver struct {
	store  store.DocumentStore
	fanout *MembershipWriter
	group  singleflight.Group
}

func NewDMResolver(st store.DocumentStore, fanout *MembershipWriter) *DMResolver {
	return &DMResolver{store: st, fanout: fanout}
}

// DMConversationID derives the conversation id for an unordered user pair:
// the two ids sorted lexicographically, joined with "_". Commutative by
// construction.
func DMConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// Resolve returns the DM conversation for the pair, creating it if needed.
// Idempotent: any number of calls for the same unordered pair yield the
// same conversation id and create at most one document.
func (r *DMResolver) Resolve(ctx context.Context, myID, otherID string) (*domain.Conversation, error) {
	if myID == otherID {
		return nil, ErrCannotDMSelf
	}

	var other domain.UserProfile
	if err := r.store.Get(ctx, store.UserPath(otherID), &other); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	id := DMConversationID(myID, otherID)

	// Concurrent local calls for the same pair collapse into one lookup or
	// create; cross-client races are settled by the conditional create.
	v, err, _ := r.group.Do(id, func() (any, error) {
		return r.resolve(ctx, id, myID, otherID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Conversation), nil
}

func (r *DMResolver) resolve(ctx context.Context, id, myID, otherID string) (*domain.Conversation, error) {
	var existing domain.Conversation
	err := r.store.Get(ctx, store.ChatPath(id), &existing)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv := &domain.Conversation{
		ID:      id,
		Type:    domain.ConversationDM,
		Members: map[string]bool{myID: true, otherID: true},
		UnreadCounts: map[string]int{
			myID:    0,
			otherID: 0,
		},
	}
	if err := r.fanout.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrExists) {
			// Lost the race to the other participant; their document is the
			// canonical one.
			var winner domain.Conversation
			if gerr := r.store.Get(ctx, store.ChatPath(id), &winner); gerr == nil {
				return &winner, nil
			}
			return nil, fmt.Errorf("resolving dm %s after lost race: %w", id, err)
		}
		return nil, err
	}
	return conv, nil
}
