package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vedran77/ripple/internal/domain"
)

func userCandidate(name string) domain.SearchResult {
	return domain.SearchResult{
		Kind: domain.ResultUser,
		User: &domain.UserProfile{Name: name},
	}
}

func TestRank_ExactBeatsPrefixBeatsSubstring(t *testing.T) {
	ranker := NewSearchRanker(NameField)
	candidates := []domain.SearchResult{
		userCandidate("Alice"),
		userCandidate("Salma"),
		userCandidate("Al"),
	}

	results := ranker.Rank("al", candidates)

	require.Len(t, results, 3)
	require.Equal(t, "Al", results[0].User.Name)
	require.Equal(t, scoreExact, results[0].Score)
	require.Equal(t, "Alice", results[1].User.Name)
	require.Equal(t, scorePrefix, results[1].Score)
	require.Equal(t, "Salma", results[2].User.Name)
	require.Equal(t, scoreSubstring, results[2].Score)
}

func TestRank_EmptyQuery(t *testing.T) {
	ranker := NewSearchRanker()
	require.Empty(t, ranker.Rank("", []domain.SearchResult{userCandidate("Al")}))
	require.Empty(t, ranker.Rank("   ", []domain.SearchResult{userCandidate("Al")}))
}

func TestRank_NoMatchExcluded(t *testing.T) {
	ranker := NewSearchRanker(NameField)
	results := ranker.Rank("zz", []domain.SearchResult{userCandidate("Alice")})
	require.Empty(t, results)
}

func TestRank_TiesKeepInputOrder(t *testing.T) {
	ranker := NewSearchRanker(NameField)
	candidates := []domain.SearchResult{
		userCandidate("Alpha"),
		userCandidate("Albert"),
		userCandidate("Al"),
	}

	results := ranker.Rank("al", candidates)

	require.Len(t, results, 3)
	// "Al" scores exact; the two prefix matches keep their input order.
	require.Equal(t, "Al", results[0].User.Name)
	require.Equal(t, "Alpha", results[1].User.Name)
	require.Equal(t, "Albert", results[2].User.Name)
}

func TestRank_SumsAcrossFields(t *testing.T) {
	ranker := NewSearchRanker(NameField, HandleField)
	cand := domain.SearchResult{
		Kind: domain.ResultUser,
		User: &domain.UserProfile{Name: "Sam", Handle: "sam"},
	}

	results := ranker.Rank("sam", []domain.SearchResult{cand})

	require.Len(t, results, 1)
	require.Equal(t, 2*scoreExact, results[0].Score)
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	ranker := NewSearchRanker(NameField)
	candidates := []domain.SearchResult{userCandidate("Salma"), userCandidate("Al")}

	_ = ranker.Rank("al", candidates)

	require.Equal(t, 0, candidates[0].Score)
	require.Equal(t, 0, candidates[1].Score)
	require.Equal(t, "Salma", candidates[0].User.Name)
}

func TestRank_FoldsCase(t *testing.T) {
	ranker := NewSearchRanker(NameField)
	results := ranker.Rank("AL", []domain.SearchResult{userCandidate("al")})
	require.Len(t, results, 1)
	require.Equal(t, scoreExact, results[0].Score)
}

func TestRank_ConversationCandidates(t *testing.T) {
	ranker := NewSearchRanker()
	group := domain.SearchResult{
		Kind:         domain.ResultGroup,
		Conversation: &domain.Conversation{Name: "Climbing", Handle: "climbers"},
	}

	results := ranker.Rank("climb", []domain.SearchResult{group})

	require.Len(t, results, 1)
	require.Equal(t, 2*scorePrefix, results[0].Score)
	require.Equal(t, domain.ResultGroup, results[0].Kind)
}
