package domain

// UserProfile is the document stored at users/{uid}.
type UserProfile struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	Handle       string  `json:"handle"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone,omitempty"`
	AvatarURL    *string `json:"avatarUrl,omitempty"`
	Bio          *string `json:"bio,omitempty"`
	Birthday     *string `json:"birthday,omitempty"`
	PhonePrivate bool    `json:"phonePrivate"`
	// Chats is the user's personal conversation index, mirrored at
	// users/{uid}/chats/{conversationId}. Values are always true; leaving a
	// conversation deletes the key.
	Chats map[string]bool `json:"chats,omitempty"`
}

// OwnerType identifies what kind of entity holds a handle.
type OwnerType string

const (
	OwnerUser    OwnerType = "user"
	OwnerGroup   OwnerType = "group"
	OwnerChannel OwnerType = "channel"
)

// HandleClaim is the document stored at handles/{handleLowercased}. The
// registry enforces case-insensitive uniqueness across users and
// conversations.
type HandleClaim struct {
	OwnerType OwnerType `json:"ownerType"`
	OwnerID   string    `json:"ownerId"`
}
