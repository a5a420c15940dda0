package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/vedran77/ripple/internal/domain"
	"github.com/vedran77/ripple/internal/store"
	"github.com/vedran77/ripple/pkg/validator"
)

var (
	ErrHandleTaken          = errors.New("handle already taken")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotAdmin             = errors.New("only the owner or an admin can change membership")
	ErrMembershipFixed      = errors.New("direct conversation membership is fixed at creation")
)

// MembershipWriter performs the denormalized multi-path writes behind
// membership and handle-registry changes: the conversation document, the
// handle registry, every member's personal conversation index and the
// per-member unread counters.
//
// Handle claims and new conversation documents use conditional creates, so
// two racing writers cannot both win; the remaining fan-out rides in one
// atomic multi-path update. A failure after a claim triggers a compensating
// delete, keeping the fan-out all-or-nothing at the logical level.
type MembershipWriter struct {
	store store.DocumentStore
}

func NewMembershipWriter(st store.DocumentStore) *MembershipWriter {
	return &MembershipWriter{store: st}
}

// CreateConversation materializes a new conversation and fans out
// membership to every listed member. A handle conflict fails with
// ErrHandleTaken before anything is written; a lost race on the
// conversation id surfaces store.ErrExists to the caller.
func (w *MembershipWriter) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if errs := validator.ValidateConversation(conv); errs.HasErrors() {
		return errs.Err()
	}

	if conv.UnreadCounts == nil {
		conv.UnreadCounts = make(map[string]int, len(conv.Members))
	}
	for uid := range conv.Members {
		if _, ok := conv.UnreadCounts[uid]; !ok {
			conv.UnreadCounts[uid] = 0
		}
	}

	folded := ""
	if conv.Handle != "" {
		folded = domain.FoldHandle(conv.Handle)
		claim := domain.HandleClaim{
			OwnerType: ownerTypeFor(conv.Type),
			OwnerID:   conv.ID,
		}
		if err := w.claimHandle(ctx, folded, claim); err != nil {
			return err
		}
	}

	if err := w.store.Create(ctx, store.ChatPath(conv.ID), conv); err != nil {
		w.release(folded)
		if errors.Is(err, store.ErrExists) {
			return err
		}
		return fmt.Errorf("creating conversation %s: %w", conv.ID, err)
	}

	writes := make(map[string]any, len(conv.Members))
	for uid := range conv.Members {
		writes[store.UserChatPath(uid, conv.ID)] = true
	}
	if err := w.store.Update(ctx, writes); err != nil {
		// Roll back the document and the claim so no member ends up with a
		// dangling or missing index entry.
		rollback := map[string]any{store.ChatPath(conv.ID): nil}
		if folded != "" {
			rollback[store.HandlePath(folded)] = nil
		}
		if rerr := w.store.Update(ctx, rollback); rerr != nil {
			log.Error("fanout: rollback failed", "conversation", conv.ID, "err", rerr)
		}
		return fmt.Errorf("indexing members of %s: %w", conv.ID, err)
	}
	return nil
}

// AddMember adds a single user to an existing group or channel. The
// conversation members flag, a zeroed unread counter and the member's
// personal index are written in one atomic update.
func (w *MembershipWriter) AddMember(ctx context.Context, actorID, conversationID, uid string) error {
	var conv domain.Conversation
	if err := w.store.Get(ctx, store.ChatPath(conversationID), &conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	if conv.Type == domain.ConversationDM {
		return ErrMembershipFixed
	}
	if !conv.CanManageMembers(actorID) {
		return ErrNotAdmin
	}
	if conv.Members[uid] {
		return nil
	}
	var profile domain.UserProfile
	if err := w.store.Get(ctx, store.UserPath(uid), &profile); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	writes := map[string]any{
		store.ChatPath(conversationID) + "/members/" + uid:      true,
		store.ChatPath(conversationID) + "/unreadCounts/" + uid: 0,
		store.UserChatPath(uid, conversationID):                 true,
	}
	if err := w.store.Update(ctx, writes); err != nil {
		return fmt.Errorf("adding member %s to %s: %w", uid, conversationID, err)
	}
	return nil
}

// ClaimHandle points a handle registry entry at an owner, releasing the
// owner's previous handle. Claiming the handle you already hold is a no-op.
func (w *MembershipWriter) ClaimHandle(ctx context.Context, ownerType domain.OwnerType, ownerID, handle string) error {
	if errs := validator.ValidateHandle(handle); errs.HasErrors() {
		return errs.Err()
	}
	folded := domain.FoldHandle(handle)

	var current domain.HandleClaim
	err := w.store.Get(ctx, store.HandlePath(folded), &current)
	if err == nil {
		if current.OwnerType == ownerType && current.OwnerID == ownerID {
			return nil
		}
		return ErrHandleTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	ownerPath, oldFolded, err := w.ownerHandleState(ctx, ownerType, ownerID)
	if err != nil {
		return err
	}

	if err := w.claimHandle(ctx, folded, domain.HandleClaim{OwnerType: ownerType, OwnerID: ownerID}); err != nil {
		return err
	}

	writes := map[string]any{ownerPath + "/handle": handle}
	if oldFolded != "" && oldFolded != folded {
		writes[store.HandlePath(oldFolded)] = nil
	}
	if err := w.store.Update(ctx, writes); err != nil {
		w.release(folded)
		return fmt.Errorf("repointing handle %s: %w", folded, err)
	}
	return nil
}

// claimHandle performs the uniqueness lookup followed by the conditional
// registry write. The lookup happens-before the claim; the conditional
// create closes the race window between the two.
func (w *MembershipWriter) claimHandle(ctx context.Context, folded string, claim domain.HandleClaim) error {
	var existing domain.HandleClaim
	err := w.store.Get(ctx, store.HandlePath(folded), &existing)
	if err == nil {
		return ErrHandleTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := w.store.Create(ctx, store.HandlePath(folded), claim); err != nil {
		if errors.Is(err, store.ErrExists) {
			return ErrHandleTaken
		}
		return err
	}
	return nil
}

// release deletes a claim during rollback. Best effort: the claim is
// unreachable garbage if this fails, never a correctness problem for
// readers.
func (w *MembershipWriter) release(folded string) {
	if folded == "" {
		return
	}
	if err := w.store.Update(context.Background(), map[string]any{store.HandlePath(folded): nil}); err != nil {
		log.Error("fanout: releasing handle failed", "handle", folded, "err", err)
	}
}

// ownerHandleState resolves the owner's document path and currently held
// folded handle.
func (w *MembershipWriter) ownerHandleState(ctx context.Context, ownerType domain.OwnerType, ownerID string) (string, string, error) {
	if ownerType == domain.OwnerUser {
		var profile domain.UserProfile
		if err := w.store.Get(ctx, store.UserPath(ownerID), &profile); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", "", ErrUserNotFound
			}
			return "", "", err
		}
		old := ""
		if profile.Handle != "" {
			old = domain.FoldHandle(profile.Handle)
		}
		return store.UserPath(ownerID), old, nil
	}

	var conv domain.Conversation
	if err := w.store.Get(ctx, store.ChatPath(ownerID), &conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", ErrConversationNotFound
		}
		return "", "", err
	}
	old := ""
	if conv.Handle != "" {
		old = domain.FoldHandle(conv.Handle)
	}
	return store.ChatPath(ownerID), old, nil
}

func ownerTypeFor(t domain.ConversationType) domain.OwnerType {
	if t == domain.ConversationChannel {
		return domain.OwnerChannel
	}
	return domain.OwnerGroup
}
