package domain

// SearchResultKind discriminates SearchResult variants.
type SearchResultKind string

const (
	ResultUser    SearchResultKind = "user"
	ResultGroup   SearchResultKind = "group"
	ResultChannel SearchResultKind = "channel"
)

// SearchResult is one ranked candidate. Exactly one of User and
// Conversation is set, matching Kind.
type SearchResult struct {
	Kind         SearchResultKind `json:"kind"`
	Score        int              `json:"score"`
	User         *UserProfile     `json:"user,omitempty"`
	Conversation *Conversation    `json:"conversation,omitempty"`
}
