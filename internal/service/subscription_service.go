package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/vedran77/ripple/internal/domain"
	"github.com/vedran77/ripple/internal/store"
)

// batchFetchLimit bounds the concurrency of the initial conversation fetch.
const batchFetchLimit = 8

// ConversationSink consumes the subscription manager's output. ChatList
// implements it.
type ConversationSink interface {
	ApplyInitialBatch(conversations []*domain.Conversation)
	ApplyUpdate(conversationID string, conv *domain.Conversation)
	Add(conv *domain.Conversation)
	Remove(conversationID string)
}

// SubscriptionManager keeps exactly one live change-subscription open per
// conversation the user belongs to, and none for conversations they have
// left. The handle table is private; it is only mutated through Reconcile
// and Teardown.
type SubscriptionManager struct {
	store store.DocumentStore
	sink  ConversationSink
	uid   string

	mu     sync.Mutex
	open   map[string]store.CancelFunc
	parent store.CancelFunc
	seeded bool
	closed bool
}

func NewSubscriptionManager(st store.DocumentStore, sink ConversationSink, uid string) *SubscriptionManager {
	return &SubscriptionManager{
		store: st,
		sink:  sink,
		uid:   uid,
		open:  make(map[string]store.CancelFunc),
	}
}

// Run subscribes to the user's membership index at users/{uid}/chats and
// reconciles the per-conversation subscriptions on every delivery. The
// first delivery seeds the sink with a batch fetch of all member
// conversations.
func (m *SubscriptionManager) Run(ctx context.Context) error {
	cancel, err := m.store.Subscribe(ctx, store.UserChatsPath(m.uid), func(_ string, data []byte) {
		ids, ok := decodeMembership(data)
		if !ok {
			log.Warn("subs: ignoring malformed membership index")
			return
		}
		m.mu.Lock()
		first := !m.seeded
		m.seeded = true
		m.mu.Unlock()
		if first {
			m.seed(ctx, ids)
		}
		m.Reconcile(ctx, ids)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.parent = cancel
	m.mu.Unlock()
	return nil
}

// Reconcile diffs the wanted id set against the currently open
// subscriptions, opening and cancelling only the difference. Calling it
// twice with the same set does nothing the second time. A failed open is
// not recorded, so the next delivery of the membership index retries it.
func (m *SubscriptionManager) Reconcile(ctx context.Context, ids map[string]bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var toOpen []string
	for id, wanted := range ids {
		if wanted && m.open[id] == nil {
			toOpen = append(toOpen, id)
		}
	}
	type closing struct {
		id     string
		cancel store.CancelFunc
	}
	var toClose []closing
	for id, cancel := range m.open {
		if !ids[id] {
			toClose = append(toClose, closing{id, cancel})
			delete(m.open, id)
		}
	}
	m.mu.Unlock()

	for _, c := range toClose {
		c.cancel()
		m.sink.Remove(c.id)
	}
	for _, id := range toOpen {
		cancel, err := m.store.Subscribe(ctx, store.ChatPath(id), m.conversationChanged(id))
		if err != nil {
			log.Warn("subs: open failed", "conversation", id, "err", err)
			continue
		}
		m.mu.Lock()
		if m.closed || m.open[id] != nil {
			m.mu.Unlock()
			cancel()
			continue
		}
		m.open[id] = cancel
		m.mu.Unlock()
	}
}

// Teardown cancels the membership subscription and every open
// per-conversation subscription. Safe to call repeatedly and from any
// state.
func (m *SubscriptionManager) Teardown() {
	m.mu.Lock()
	parent := m.parent
	m.parent = nil
	open := m.open
	m.open = make(map[string]store.CancelFunc)
	m.closed = true
	m.mu.Unlock()

	if parent != nil {
		parent()
	}
	for _, cancel := range open {
		cancel()
	}
}

// conversationChanged forwards a single conversation's change events to the
// sink. The first non-nil delivery is the conversation's snapshot and
// inserts the entry; later deliveries are updates and no-op if the
// conversation left the list meanwhile. A nil delivery removes the entry
// and re-arms the snapshot: the membership marker can become visible before
// the document itself, and the document's eventual arrival must still
// insert. Decode failures are isolated to that conversation.
func (m *SubscriptionManager) conversationChanged(id string) store.ChangeFunc {
	var snapshotSeen atomic.Bool
	return func(_ string, data []byte) {
		if data == nil {
			snapshotSeen.Store(false)
			m.sink.Remove(id)
			return
		}
		var conv domain.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			log.Warn("subs: dropping malformed update", "conversation", id, "err", err)
			return
		}
		if conv.ID == "" {
			conv.ID = id
		}
		if snapshotSeen.CompareAndSwap(false, true) {
			m.sink.Add(&conv)
			return
		}
		m.sink.ApplyUpdate(id, &conv)
	}
}

// seed batch-fetches every member conversation and hands the sink its
// initial list. Individual fetch failures skip that conversation; its
// subscription will fill it in.
func (m *SubscriptionManager) seed(ctx context.Context, ids map[string]bool) {
	var mu sync.Mutex
	var conversations []*domain.Conversation

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchFetchLimit)
	for id, wanted := range ids {
		if !wanted {
			continue
		}
		id := id
		g.Go(func() error {
			var conv domain.Conversation
			if err := m.store.Get(gctx, store.ChatPath(id), &conv); err != nil {
				log.Warn("subs: seed fetch failed", "conversation", id, "err", err)
				return nil
			}
			if conv.ID == "" {
				conv.ID = id
			}
			mu.Lock()
			conversations = append(conversations, &conv)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.sink.ApplyInitialBatch(conversations)
}

// decodeMembership parses the users/{uid}/chats document. A nil payload
// means the user belongs to no conversations; a payload that does not
// decode reports !ok so the caller keeps the current subscription set
// instead of reading it as "left everything".
func decodeMembership(data []byte) (map[string]bool, bool) {
	ids := make(map[string]bool)
	if data == nil {
		return ids, true
	}
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}
