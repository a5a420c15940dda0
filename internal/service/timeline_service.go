package service

import (
	"time"

	"github.com/vedran77/ripple/internal/domain"
)

// TimelineBuilder turns an ascending-timestamp message sequence into a
// renderable sequence with date separators. It is pure: the timeline is
// recomputed from scratch on every call and never fails.
type TimelineBuilder struct {
	loc *time.Location
}

// NewTimelineBuilder builds timelines with calendar days computed in loc.
// A nil location falls back to time.Local. The location must stay the same
// for a whole conversation or separators shift between renders.
func NewTimelineBuilder(loc *time.Location) *TimelineBuilder {
	if loc == nil {
		loc = time.Local
	}
	return &TimelineBuilder{loc: loc}
}

// Build interleaves date separators into messages. Messages with no
// timestamp are dropped (the store has not committed them yet). A separator
// precedes the first message of every day except the first emitted one.
func (b *TimelineBuilder) Build(messages []domain.Message) []domain.TimelineItem {
	var items []domain.TimelineItem
	var prevDay string
	for i := range messages {
		msg := &messages[i]
		if msg.Timestamp == 0 {
			continue
		}
		ts := time.UnixMilli(msg.Timestamp).In(b.loc)
		day := ts.Format("2006-01-02")
		if prevDay != "" && day != prevDay {
			items = append(items, domain.TimelineItem{
				Kind:  domain.TimelineSeparator,
				Label: ts.Format("January 2, 2006"),
			})
		}
		prevDay = day
		items = append(items, domain.TimelineItem{
			Kind:    domain.TimelineMessage,
			Message: msg,
		})
	}
	return items
}
