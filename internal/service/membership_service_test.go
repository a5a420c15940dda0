package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vedran77/ripple/internal/domain"
	"github.com/vedran77/ripple/internal/store"
	"github.com/vedran77/ripple/internal/store/memory"
	"github.com/vedran77/ripple/pkg/validator"
)

func groupConv(id, owner string, members ...string) *domain.Conversation {
	c := &domain.Conversation{
		ID:      id,
		Type:    domain.ConversationGroup,
		Name:    "Test Group",
		OwnerID: owner,
		Members: map[string]bool{owner: true},
	}
	for _, m := range members {
		c.Members[m] = true
	}
	return c
}

func TestCreateConversation_FansOutAllPaths(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	conv := groupConv("g1", "ana", "bob", "cid")
	conv.Handle = "crew"
	require.NoError(t, w.CreateConversation(ctx, conv))

	var stored domain.Conversation
	require.NoError(t, st.Get(ctx, store.ChatPath("g1"), &stored))
	require.Equal(t, "Test Group", stored.Name)
	require.Len(t, stored.UnreadCounts, 3)
	for uid := range conv.Members {
		require.Equal(t, 0, stored.UnreadCounts[uid])

		var flag bool
		require.NoError(t, st.Get(ctx, store.UserChatPath(uid, "g1"), &flag))
		require.True(t, flag)
	}

	var claim domain.HandleClaim
	require.NoError(t, st.Get(ctx, store.HandlePath("crew"), &claim))
	require.Equal(t, domain.OwnerGroup, claim.OwnerType)
	require.Equal(t, "g1", claim.OwnerID)
}

func TestCreateConversation_HandleConflictLeavesNoTrace(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	first := groupConv("g1", "ana")
	first.Handle = "crew"
	require.NoError(t, w.CreateConversation(ctx, first))

	// Conflicts are case-insensitive.
	second := groupConv("g2", "bob")
	second.Handle = "Crew"
	err := w.CreateConversation(ctx, second)
	require.ErrorIs(t, err, ErrHandleTaken)

	var conv domain.Conversation
	require.ErrorIs(t, st.Get(ctx, store.ChatPath("g2"), &conv), store.ErrNotFound)
	var flag bool
	require.ErrorIs(t, st.Get(ctx, store.UserChatPath("bob", "g2"), &flag), store.ErrNotFound)

	// The original claim is untouched.
	var claim domain.HandleClaim
	require.NoError(t, st.Get(ctx, store.HandlePath("crew"), &claim))
	require.Equal(t, "g1", claim.OwnerID)
}

func TestCreateConversation_DuplicateIDReleasesHandle(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	require.NoError(t, w.CreateConversation(ctx, groupConv("g1", "ana")))

	second := groupConv("g1", "bob")
	second.Handle = "crew"
	err := w.CreateConversation(ctx, second)
	require.ErrorIs(t, err, store.ErrExists)

	// The claim made before the failed create was rolled back.
	var claim domain.HandleClaim
	require.ErrorIs(t, st.Get(ctx, store.HandlePath("crew"), &claim), store.ErrNotFound)
}

func TestCreateConversation_Invalid(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)

	conv := groupConv("g1", "ana")
	conv.Name = ""
	err := w.CreateConversation(context.Background(), conv)
	require.Error(t, err)
	var verr *validator.Error
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "name")
}

func TestAddMember_WritesAtomicBatch(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	seedUser(t, st, "dan", "Dan")
	require.NoError(t, w.CreateConversation(ctx, groupConv("g1", "ana", "bob")))

	require.NoError(t, w.AddMember(ctx, "ana", "g1", "dan"))

	var conv domain.Conversation
	require.NoError(t, st.Get(ctx, store.ChatPath("g1"), &conv))
	require.True(t, conv.Members["dan"])
	require.Equal(t, 0, conv.UnreadCounts["dan"])
	var flag bool
	require.NoError(t, st.Get(ctx, store.UserChatPath("dan", "g1"), &flag))
	require.True(t, flag)

	// Re-adding is a no-op.
	require.NoError(t, w.AddMember(ctx, "ana", "g1", "dan"))
}

func TestAddMember_RequiresPermission(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	seedUser(t, st, "dan", "Dan")
	conv := groupConv("g1", "ana", "bob", "eve")
	conv.Admins = map[string]bool{"eve": true}
	require.NoError(t, w.CreateConversation(ctx, conv))

	require.ErrorIs(t, w.AddMember(ctx, "bob", "g1", "dan"), ErrNotAdmin)
	require.NoError(t, w.AddMember(ctx, "eve", "g1", "dan"))
}

func TestAddMember_DMIsFixed(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	dm := &domain.Conversation{
		ID:      "ana_bob",
		Type:    domain.ConversationDM,
		Members: map[string]bool{"ana": true, "bob": true},
	}
	require.NoError(t, w.CreateConversation(ctx, dm))

	require.ErrorIs(t, w.AddMember(ctx, "ana", "ana_bob", "eve"), ErrMembershipFixed)
}

func TestAddMember_Missing(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	require.ErrorIs(t, w.AddMember(ctx, "ana", "nope", "dan"), ErrConversationNotFound)

	require.NoError(t, w.CreateConversation(ctx, groupConv("g1", "ana")))
	require.ErrorIs(t, w.AddMember(ctx, "ana", "g1", "ghost"), ErrUserNotFound)
}

func TestClaimHandle_RepointsAndReleasesOld(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, store.UserPath("ana"), domain.UserProfile{
		UID: "ana", Name: "Ana", Handle: "ana_old",
	}))
	require.NoError(t, st.Set(ctx, store.HandlePath("ana_old"), domain.HandleClaim{
		OwnerType: domain.OwnerUser, OwnerID: "ana",
	}))

	require.NoError(t, w.ClaimHandle(ctx, domain.OwnerUser, "ana", "ana_new"))

	var claim domain.HandleClaim
	require.NoError(t, st.Get(ctx, store.HandlePath("ana_new"), &claim))
	require.Equal(t, "ana", claim.OwnerID)
	require.ErrorIs(t, st.Get(ctx, store.HandlePath("ana_old"), &claim), store.ErrNotFound)

	var profile domain.UserProfile
	require.NoError(t, st.Get(ctx, store.UserPath("ana"), &profile))
	require.Equal(t, "ana_new", profile.Handle)
}

func TestClaimHandle_TakenByOther(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	seedUser(t, st, "ana", "Ana")
	require.NoError(t, st.Set(ctx, store.HandlePath("crew"), domain.HandleClaim{
		OwnerType: domain.OwnerGroup, OwnerID: "g1",
	}))

	require.ErrorIs(t, w.ClaimHandle(ctx, domain.OwnerUser, "ana", "crew"), ErrHandleTaken)
	// Folded collision counts too.
	require.ErrorIs(t, w.ClaimHandle(ctx, domain.OwnerUser, "ana", "CREW"), ErrHandleTaken)
}

func TestClaimHandle_ReclaimOwnIsNoop(t *testing.T) {
	st := memory.New()
	w := NewMembershipWriter(st)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, store.UserPath("ana"), domain.UserProfile{
		UID: "ana", Name: "Ana", Handle: "ana",
	}))
	require.NoError(t, st.Set(ctx, store.HandlePath("ana"), domain.HandleClaim{
		OwnerType: domain.OwnerUser, OwnerID: "ana",
	}))

	require.NoError(t, w.ClaimHandle(ctx, domain.OwnerUser, "ana", "ana"))
}
