package domain

// ConversationType discriminates the three conversation shapes.
type ConversationType string

const (
	ConversationDM      ConversationType = "dm"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

// Conversation is the document stored at chats/{conversationId}.
//
// Members is boolean presence keyed by uid and is never empty once the
// conversation exists. OwnerID, Admins and IsPublic only apply to group and
// channel conversations; Admins ⊆ Members and OwnerID ∈ Members.
type Conversation struct {
	ID          string              `json:"id"`
	Type        ConversationType    `json:"type"`
	Name        string              `json:"name"`
	Handle      string              `json:"handle,omitempty"`
	AvatarURL   *string             `json:"avatarUrl,omitempty"`
	Description *string             `json:"description,omitempty"`
	Members     map[string]bool     `json:"members"`
	OwnerID     string              `json:"ownerId,omitempty"`
	Admins      map[string]bool     `json:"admins,omitempty"`
	IsPublic    bool                `json:"isPublic,omitempty"`
	LastMessage *LastMessageSummary `json:"lastMessage,omitempty"`
	// UnreadCounts maps member uid → non-negative unread message count.
	UnreadCounts map[string]int `json:"unreadCounts,omitempty"`
}

// LastTimestamp returns the sort key for the chat list. Conversations
// without a last message sort as 0, i.e. after every timestamped one.
func (c *Conversation) LastTimestamp() int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.Timestamp
}

// IsMember reports whether uid currently belongs to the conversation.
func (c *Conversation) IsMember(uid string) bool {
	return c.Members[uid]
}

// CanManageMembers reports whether uid may change membership or ownership
// fields. DM membership is fixed at creation; for group and channel it is
// the owner or an admin.
func (c *Conversation) CanManageMembers(uid string) bool {
	if c.Type == ConversationDM {
		return false
	}
	return c.OwnerID == uid || c.Admins[uid]
}
