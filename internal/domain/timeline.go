package domain

// TimelineItemKind discriminates timeline entries.
type TimelineItemKind string

const (
	TimelineSeparator TimelineItemKind = "separator"
	TimelineMessage   TimelineItemKind = "message"
)

// TimelineItem is one renderable entry of a conversation timeline: either a
// date separator (Label set) or a message.
type TimelineItem struct {
	Kind    TimelineItemKind `json:"kind"`
	Label   string           `json:"label,omitempty"`
	Message *Message         `json:"message,omitempty"`
}
