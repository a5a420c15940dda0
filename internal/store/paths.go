package store

import "strings"

// Remote document layout, authoritative for wire compatibility:
//
//	users/{uid}                                 → UserProfile
//	users/{uid}/chats/{conversationId}          → bool membership marker
//	chats/{conversationId}                      → Conversation
//	chats/{conversationId}/messages/{messageId} → Message
//	chats/{conversationId}/lastMessage          → LastMessageSummary
//	handles/{handleLowercased}                  → HandleClaim

func UserPath(uid string) string { return "users/" + uid }

func UserChatsPath(uid string) string { return "users/" + uid + "/chats" }

func UserChatPath(uid, conversationID string) string {
	return "users/" + uid + "/chats/" + conversationID
}

func ChatPath(conversationID string) string { return "chats/" + conversationID }

func MessagesPath(conversationID string) string {
	return "chats/" + conversationID + "/messages"
}

func MessagePath(conversationID, messageID string) string {
	return "chats/" + conversationID + "/messages/" + messageID
}

func LastMessagePath(conversationID string) string {
	return "chats/" + conversationID + "/lastMessage"
}

func HandlePath(foldedHandle string) string { return "handles/" + foldedHandle }

// Split breaks a path into its segments, ignoring leading and trailing
// slashes.
func Split(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Overlaps reports whether two paths address overlapping subtrees, i.e. one
// is an ancestor of (or equal to) the other. A write at one of them changes
// the value observable at the other.
func Overlaps(a, b string) bool {
	as, bs := Split(a), Split(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
