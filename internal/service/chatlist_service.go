package service

import (
	"sort"
	"sync"

	"github.com/vedran77/ripple/internal/domain"
)

// ChatList aggregates per-conversation summary updates into one sorted,
// duplicate-free conversation list. Updates for different conversations may
// arrive in any order relative to each other; each is applied independently
// keyed by conversation id.
type ChatList struct {
	mu    sync.RWMutex
	items []*domain.Conversation

	// onChange, when set, receives a snapshot after every mutation.
	onChange func([]domain.Conversation)
}

func NewChatList() *ChatList {
	return &ChatList{}
}

// OnChange registers the change callback. Set it before the subscription
// manager starts delivering events.
func (l *ChatList) OnChange(fn func([]domain.Conversation)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// ApplyInitialBatch replaces the whole list. Duplicate ids keep their first
// occurrence.
func (l *ChatList) ApplyInitialBatch(conversations []*domain.Conversation) {
	l.mu.Lock()
	seen := make(map[string]bool, len(conversations))
	items := make([]*domain.Conversation, 0, len(conversations))
	for _, c := range conversations {
		if c == nil || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		items = append(items, c)
	}
	l.items = items
	l.resort()
	l.notifyLocked()
}

// ApplyUpdate replaces the entry matching the id. Unknown ids are a no-op:
// the conversation has since left the membership set.
func (l *ChatList) ApplyUpdate(conversationID string, conv *domain.Conversation) {
	if conv == nil {
		return
	}
	l.mu.Lock()
	for i, existing := range l.items {
		if existing.ID == conversationID {
			l.items[i] = conv
			l.resort()
			l.notifyLocked()
			return
		}
	}
	l.mu.Unlock()
}

// Add inserts a conversation that entered the membership set. Existing
// entries are replaced in place.
func (l *ChatList) Add(conv *domain.Conversation) {
	if conv == nil {
		return
	}
	l.mu.Lock()
	for i, existing := range l.items {
		if existing.ID == conv.ID {
			l.items[i] = conv
			l.resort()
			l.notifyLocked()
			return
		}
	}
	l.items = append(l.items, conv)
	l.resort()
	l.notifyLocked()
}

// Remove drops the entry for a conversation the user has left.
func (l *ChatList) Remove(conversationID string) {
	l.mu.Lock()
	for i, existing := range l.items {
		if existing.ID == conversationID {
			l.items = append(l.items[:i], l.items[i+1:]...)
			l.notifyLocked()
			return
		}
	}
	l.mu.Unlock()
}

// Snapshot returns a copy of the current sorted list.
func (l *ChatList) Snapshot() []domain.Conversation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *ChatList) snapshotLocked() []domain.Conversation {
	out := make([]domain.Conversation, len(l.items))
	for i, c := range l.items {
		out[i] = *c
	}
	return out
}

// resort orders by lastMessage timestamp descending. The sort is stable so
// equal timestamps keep their relative order; conversations without a last
// message sort as 0, i.e. last.
func (l *ChatList) resort() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].LastTimestamp() > l.items[j].LastTimestamp()
	})
}

// notifyLocked releases the lock and fires the change callback with a
// snapshot taken under it.
func (l *ChatList) notifyLocked() {
	fn := l.onChange
	var snap []domain.Conversation
	if fn != nil {
		snap = l.snapshotLocked()
	}
	l.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
