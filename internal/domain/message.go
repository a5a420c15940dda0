package domain

// Message is the document stored at chats/{conversationId}/messages/{id}.
// At least one of Text and ImageURL is set. Timestamp is assigned by the
// store at write time, in milliseconds; 0 means the write has not committed
// yet.
type Message struct {
	ID           string  `json:"id"`
	Text         string  `json:"text,omitempty"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	SenderID     string  `json:"senderId"`
	SenderName   string  `json:"senderName"`
	SenderAvatar *string `json:"senderAvatar,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	Unread       bool    `json:"unread,omitempty"`
}

// LastMessageSummary mirrors the most recently written message of a
// conversation. Same payload as Message minus the id; independently
// subscribable at chats/{conversationId}/lastMessage.
type LastMessageSummary struct {
	Text         string  `json:"text,omitempty"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	SenderID     string  `json:"senderId"`
	SenderName   string  `json:"senderName"`
	SenderAvatar *string `json:"senderAvatar,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	Unread       bool    `json:"unread,omitempty"`
}

// Summary converts a committed message into its lastMessage mirror form.
func (m *Message) Summary() *LastMessageSummary {
	return &LastMessageSummary{
		Text:         m.Text,
		ImageURL:     m.ImageURL,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		Timestamp:    m.Timestamp,
		Unread:       m.Unread,
	}
}
