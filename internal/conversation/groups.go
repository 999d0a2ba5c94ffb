package conversation

import (
	"sort"
	"strings"
	"time"
)

// Recency bucket titles, newest first
const (
	GroupToday     = "Today"
	GroupYesterday = "Yesterday"
	GroupThisWeek  = "This Week"
	GroupThisMonth = "This Month"
	GroupOlder     = "Older"
)

// Group is a titled bucket of conversations for the sidebar
type Group struct {
	Title string
	Items []Conversation
}

// Filter keeps conversations whose title or any message content contains
// query, case-insensitively. A blank query keeps everything.
func Filter(conversations []Conversation, query string) []Conversation {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return conversations
	}

	var out []Conversation
	for _, conv := range conversations {
		if matches(conv, needle) {
			out = append(out, conv)
		}
	}
	return out
}

func matches(conv Conversation, needle string) bool {
	if strings.Contains(strings.ToLower(conv.Title), needle) {
		return true
	}
	for _, msg := range conv.Messages {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			return true
		}
	}
	return false
}

// GroupByRecency filters by query and buckets the result by UpdatedAt
// relative to the local midnight of now. Each bucket is sorted newest first
// and empty buckets are omitted. The input slice is never reordered.
func GroupByRecency(conversations []Conversation, query string, now time.Time) []Group {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	bounds := []struct {
		title string
		since time.Time
	}{
		{GroupToday, today},
		{GroupYesterday, today.AddDate(0, 0, -1)},
		{GroupThisWeek, today.AddDate(0, 0, -7)},
		{GroupThisMonth, today.AddDate(0, 0, -30)},
	}

	buckets := make(map[string][]Conversation)
	for _, conv := range Filter(conversations, query) {
		title := GroupOlder
		for _, b := range bounds {
			if !conv.UpdatedAt.Before(b.since) {
				title = b.title
				break
			}
		}
		buckets[title] = append(buckets[title], conv)
	}

	order := []string{GroupToday, GroupYesterday, GroupThisWeek, GroupThisMonth, GroupOlder}
	var groups []Group
	for _, title := range order {
		items := buckets[title]
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		})
		groups = append(groups, Group{Title: title, Items: items})
	}
	return groups
}

// Preview returns the first message truncated to maxLength runes with a
// trailing "...", or the title when the conversation is empty
func Preview(conv Conversation, maxLength int) string {
	if len(conv.Messages) == 0 {
		return conv.Title
	}

	content := []rune(conv.Messages[0].Content)
	if maxLength <= 0 || len(content) <= maxLength {
		return string(content)
	}
	return string(content[:maxLength]) + "..."
}
