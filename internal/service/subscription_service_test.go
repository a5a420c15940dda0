package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vedran77/ripple/internal/domain"
	"github.com/vedran77/ripple/internal/store"
	"github.com/vedran77/ripple/internal/store/memory"
)

// countingStore wraps the in-process store to count subscription opens per
// path and optionally fail the next open of a path.
type countingStore struct {
	*memory.Store

	mu       sync.Mutex
	opened   map[string]int
	failNext map[string]bool
}

func newCountingStore() *countingStore {
	return &countingStore{
		Store:    memory.New(),
		opened:   make(map[string]int),
		failNext: make(map[string]bool),
	}
}

func (c *countingStore) Subscribe(ctx context.Context, path string, fn store.ChangeFunc) (store.CancelFunc, error) {
	c.mu.Lock()
	c.opened[path]++
	if c.failNext[path] {
		delete(c.failNext, path)
		c.mu.Unlock()
		return nil, store.ErrUnavailable
	}
	c.mu.Unlock()
	return c.Store.Subscribe(ctx, path, fn)
}

func (c *countingStore) openCount(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened[path]
}

// recordingSink captures every sink call in order.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]string
	added   []string
	updated []string
	removed []string
}

func (r *recordingSink) ApplyInitialBatch(conversations []*domain.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := make([]string, len(conversations))
	for i, c := range conversations {
		batch[i] = c.ID
	}
	r.batches = append(r.batches, batch)
}

func (r *recordingSink) ApplyUpdate(id string, _ *domain.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, id)
}

func (r *recordingSink) Add(conv *domain.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, conv.ID)
}

func (r *recordingSink) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *recordingSink) snapshot() (batches [][]string, added, updated, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string{}, r.batches...),
		append([]string{}, r.added...),
		append([]string{}, r.updated...),
		append([]string{}, r.removed...)
}

func seedMemberConversation(t *testing.T, st store.DocumentStore, uid, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, store.ChatPath(id), &domain.Conversation{
		ID:      id,
		Type:    domain.ConversationGroup,
		Name:    "Room " + id,
		OwnerID: uid,
		Members: map[string]bool{uid: true},
	}))
	require.NoError(t, st.Set(ctx, store.UserChatPath(uid, id), true))
}

func TestRun_SeedsExistingMemberships(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")
	seedMemberConversation(t, st, "ana", "g2")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	batches, _, _, _ := sink.snapshot()
	require.Len(t, batches, 1)
	require.ElementsMatch(t, []string{"g1", "g2"}, batches[0])
	require.Equal(t, 1, st.openCount(store.ChatPath("g1")))
	require.Equal(t, 1, st.openCount(store.ChatPath("g2")))
}

func TestRun_EmptyMembership(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(context.Background()))
	defer m.Teardown()

	batches, added, _, _ := sink.snapshot()
	require.Len(t, batches, 1)
	require.Empty(t, batches[0])
	require.Empty(t, added)
}

func TestMembershipGrowthOpensSubscription(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	// Joining a conversation flows through the membership index.
	seedMemberConversation(t, st, "ana", "g1")

	_, added, _, _ := sink.snapshot()
	require.Equal(t, []string{"g1"}, added)
	require.Equal(t, 1, st.openCount(store.ChatPath("g1")))
}

func TestMembershipLossCancelsAndRemoves(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	require.NoError(t, st.Update(ctx, map[string]any{
		store.UserChatPath("ana", "g1"): nil,
	}))

	_, _, _, removed := sink.snapshot()
	require.Equal(t, []string{"g1"}, removed)

	// The conversation subscription is gone: later writes to the document do
	// not reach the sink.
	require.NoError(t, st.Set(ctx, store.ChatPath("g1")+"/name", "renamed"))
	_, _, updated, _ := sink.snapshot()
	require.Empty(t, updated)
}

func TestConversationUpdateReachesSink(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	require.NoError(t, st.Update(ctx, map[string]any{
		store.ChatPath("g1") + "/unreadCounts/ana": 3,
	}))

	_, added, updated, _ := sink.snapshot()
	// The subscription's own snapshot inserted the entry; the write is an
	// update.
	require.Equal(t, []string{"g1"}, added)
	require.Equal(t, []string{"g1"}, updated)
}

func TestReconcile_Idempotent(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	before := st.openCount(store.ChatPath("g1"))
	m.Reconcile(ctx, map[string]bool{"g1": true})
	m.Reconcile(ctx, map[string]bool{"g1": true})

	require.Equal(t, before, st.openCount(store.ChatPath("g1")))
	_, _, _, removed := sink.snapshot()
	require.Empty(t, removed)
}

func TestReconcile_FailedOpenRetries(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")
	st.failNext[store.ChatPath("g1")] = true

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	_, added, _, _ := sink.snapshot()
	require.Empty(t, added)

	// The failed open was not recorded, so the next reconcile retries it.
	m.Reconcile(ctx, map[string]bool{"g1": true})

	_, added, _, _ = sink.snapshot()
	require.Equal(t, []string{"g1"}, added)
	require.Equal(t, 2, st.openCount(store.ChatPath("g1")))
}

func TestTeardown_Idempotent(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))

	m.Teardown()
	m.Teardown()

	// No subscriptions survive: writes reach nobody.
	require.NoError(t, st.Set(ctx, store.ChatPath("g1")+"/name", "renamed"))
	seedMemberConversation(t, st, "ana", "g2")

	_, added, updated, _ := sink.snapshot()
	require.Equal(t, []string{"g1"}, added)
	require.Empty(t, updated)
	require.Equal(t, 0, st.openCount(store.ChatPath("g2")))
}

func TestReconcile_AfterTeardownIsNoop(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	m.Teardown()

	m.Reconcile(ctx, map[string]bool{"g1": true, "g2": true})
	require.Equal(t, 1, st.openCount(store.ChatPath("g1")))
	require.Equal(t, 0, st.openCount(store.ChatPath("g2")))
}

func TestConversationDeletionRemovesEntry(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	require.NoError(t, st.Update(ctx, map[string]any{store.ChatPath("g1"): nil}))

	_, _, _, removed := sink.snapshot()
	require.Equal(t, []string{"g1"}, removed)
}

func TestConversationDocumentArrivesAfterMembership(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	// The membership marker becomes visible before the document exists.
	require.NoError(t, st.Set(ctx, store.UserChatPath("ana", "g1"), true))

	_, added, _, _ := sink.snapshot()
	require.Empty(t, added)

	// The document write lands later and must still insert the entry.
	require.NoError(t, st.Set(ctx, store.ChatPath("g1"), &domain.Conversation{
		ID: "g1", Type: domain.ConversationGroup, Name: "Room",
		OwnerID: "ana", Members: map[string]bool{"ana": true},
	}))

	_, added, updated, _ := sink.snapshot()
	require.Equal(t, []string{"g1"}, added)
	require.Empty(t, updated)
}

func TestChatListGainsLateDocument(t *testing.T) {
	st := newCountingStore()
	list := NewChatList()
	ctx := context.Background()

	m := NewSubscriptionManager(st, list, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	require.NoError(t, st.Set(ctx, store.UserChatPath("ana", "g1"), true))
	require.Empty(t, list.Snapshot())

	require.NoError(t, st.Set(ctx, store.ChatPath("g1"), &domain.Conversation{
		ID: "g1", Type: domain.ConversationGroup, Name: "Room",
		OwnerID: "ana", Members: map[string]bool{"ana": true},
	}))

	snap := list.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "g1", snap[0].ID)
}

func TestMalformedMembershipIndexKeepsSubscriptions(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	// A corrupt index document must not read as "left every conversation".
	require.NoError(t, st.Set(ctx, store.UserChatsPath("ana"), "garbage"))

	_, _, _, removed := sink.snapshot()
	require.Empty(t, removed)

	// The conversation subscription is still live.
	require.NoError(t, st.Update(ctx, map[string]any{
		store.ChatPath("g1") + "/name": "renamed",
	}))
	_, _, updated, _ := sink.snapshot()
	require.Equal(t, []string{"g1"}, updated)
}

func TestMalformedUpdateIsolated(t *testing.T) {
	st := newCountingStore()
	sink := &recordingSink{}
	ctx := context.Background()
	seedMemberConversation(t, st, "ana", "g1")

	m := NewSubscriptionManager(st, sink, "ana")
	require.NoError(t, m.Run(ctx))
	defer m.Teardown()

	// A scalar where a document is expected fails to decode; the entry stays.
	require.NoError(t, st.Set(ctx, store.ChatPath("g1"), "garbage"))
	require.NoError(t, st.Update(ctx, map[string]any{
		store.ChatPath("g1"): &domain.Conversation{
			ID: "g1", Type: domain.ConversationGroup, Name: "back",
			OwnerID: "ana", Members: map[string]bool{"ana": true},
		},
	}))

	_, _, updated, removed := sink.snapshot()
	require.Empty(t, removed)
	require.Equal(t, []string{"g1"}, updated)
}
