package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vedran77/ripple/internal/domain"
	"github.com/vedran77/ripple/internal/store"
)

var (
	ErrEmptyMessage = errors.New("message must have text or an image")
	ErrNotMember    = errors.New("user is not a member of this conversation")
)

// MessageService writes messages and maintains the denormalized state that
// hangs off them: the lastMessage mirror and the per-member unread
// counters.
//
// Unread policy: every member except the sender is incremented by one per
// message, applied as a store-side increment so concurrent senders cannot
// lose counts; MarkRead resets a member's counter when they open the
// conversation.
type MessageService struct {
	store  store.DocumentStore
	upload store.Uploader
}

func NewMessageService(st store.DocumentStore, upload store.Uploader) *MessageService {
	return &MessageService{store: st, upload: upload}
}

// Send appends a text message. The store assigns the timestamp at commit;
// the committed message is read back and returned.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, text string) (*domain.Message, error) {
	return s.send(ctx, conversationID, senderID, strings.TrimSpace(text), "")
}

// SendImage uploads the image through the opaque blob host and appends a
// message carrying the returned URL.
func (s *MessageService) SendImage(ctx context.Context, conversationID, senderID string, image []byte, caption string) (*domain.Message, error) {
	if s.upload == nil || len(image) == 0 {
		return nil, ErrEmptyMessage
	}
	url, err := s.upload(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("uploading image: %w", err)
	}
	return s.send(ctx, conversationID, senderID, strings.TrimSpace(caption), url)
}

func (s *MessageService) send(ctx context.Context, conversationID, senderID, text, imageURL string) (*domain.Message, error) {
	if text == "" && imageURL == "" {
		return nil, ErrEmptyMessage
	}

	var conv domain.Conversation
	if err := s.store.Get(ctx, store.ChatPath(conversationID), &conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.IsMember(senderID) {
		return nil, ErrNotMember
	}

	var sender domain.UserProfile
	if err := s.store.Get(ctx, store.UserPath(senderID), &sender); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	doc := map[string]any{
		"senderId":   senderID,
		"senderName": sender.Name,
		"timestamp":  store.ServerTimestamp(),
		"unread":     true,
	}
	if text != "" {
		doc["text"] = text
	}
	if imageURL != "" {
		doc["imageUrl"] = imageURL
	}
	if sender.AvatarURL != nil {
		doc["senderAvatar"] = *sender.AvatarURL
	}

	id, err := s.store.Push(ctx, store.MessagesPath(conversationID), doc)
	if err != nil {
		return nil, fmt.Errorf("writing message: %w", err)
	}

	// Read back for the store-assigned timestamp.
	var msg domain.Message
	if err := s.store.Get(ctx, store.MessagePath(conversationID, id), &msg); err != nil {
		return nil, fmt.Errorf("reading back message %s: %w", id, err)
	}
	msg.ID = id

	writes := map[string]any{
		store.LastMessagePath(conversationID): msg.Summary(),
	}
	for uid := range conv.Members {
		if uid == senderID {
			continue
		}
		writes[store.ChatPath(conversationID)+"/unreadCounts/"+uid] = store.ServerIncrement(1)
	}
	if err := s.store.Update(ctx, writes); err != nil {
		return nil, fmt.Errorf("updating lastMessage mirror: %w", err)
	}
	return &msg, nil
}

// MarkRead zeroes the member's unread counter; called when the member opens
// the conversation.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, uid string) error {
	var conv domain.Conversation
	if err := s.store.Get(ctx, store.ChatPath(conversationID), &conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	if !conv.IsMember(uid) {
		return ErrNotMember
	}
	return s.store.Update(ctx, map[string]any{
		store.ChatPath(conversationID) + "/unreadCounts/" + uid: 0,
	})
}

// Messages returns the conversation's messages in ascending timestamp
// order, ids filled from their keys. Feed the result to TimelineBuilder.
func (s *MessageService) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	byID := make(map[string]domain.Message)
	err := s.store.Get(ctx, store.MessagesPath(conversationID), &byID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.Message, 0, len(byID))
	for id, msg := range byID {
		msg.ID = id
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
