package domain

import (
	"math"
	"time"
)

// Interaction statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NoReply is the generator's decline value. It is stored verbatim as the outcome text.
const NoReply = "NO_REPLY"

// Interaction sources.
const (
	SourceMention = "mention"
	SourceSearch  = "search"
)

// InboundItem is a post observed on the feed. It is never persisted itself.
type InboundItem struct {
	ID              string       `json:"id"`
	AuthorID        string       `json:"author_id"`
	AuthorUsername  string       `json:"author_username,omitempty"`
	Text            string       `json:"text"`
	CreatedAt       time.Time    `json:"created_at"`
	ConversationID  string       `json:"conversation_id,omitempty"`
	InReplyToUserID *string      `json:"in_reply_to_user_id,omitempty"`
	Original        *InboundItem `json:"original,omitempty"`
}

// Interaction is one ledger row per inbound item ever processed.
type Interaction struct {
	ItemID        string  `json:"item_id"`
	AuthorID      string  `json:"author_id"`
	Username      string  `json:"username,omitempty"`
	InboundText   string  `json:"inbound_text"`
	OutcomeText   *string `json:"outcome_text,omitempty"`
	ReplyID       *string `json:"reply_id,omitempty"`
	Category      string  `json:"category"`
	Source        string  `json:"source" enum:"mention,search"`
	Status        string  `json:"status" enum:"pending,completed,failed"`
	FailureReason *string `json:"failure_reason,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	RespondedAt   *string `json:"responded_at,omitempty" format:"date-time"`
}

// Handled reports whether the row already carries an outcome. Failed rows count as handled
// until reopened.
func (i Interaction) Handled() bool {
	if i.OutcomeText != nil {
		return true
	}
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

type ActorProfile struct {
	AuthorID          string `json:"author_id"`
	Username          string `json:"username,omitempty"`
	LastInteractionAt string `json:"last_interaction_at" format:"date-time"`
	InteractionCount  int    `json:"interaction_count"`
}

type DailyPost struct {
	Date           string  `json:"date"`
	VerseReference string  `json:"verse_reference"`
	VerseText      string  `json:"verse_text"`
	PostID         string  `json:"post_id"`
	ReplyPostID    *string `json:"reply_post_id,omitempty"`
	PostedAt       string  `json:"posted_at" format:"date-time"`
	Forced         bool    `json:"forced"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type Stats struct {
	TotalInteractions int     `json:"total_interactions"`
	Completed         int     `json:"completed"`
	Replied           int     `json:"replied"`
	Declined          int     `json:"declined"`
	Failed            int     `json:"failed"`
	Pending           int     `json:"pending"`
	Today             int     `json:"today_interactions"`
	UniqueUsers       int     `json:"unique_users"`
	ResponseRate      float64 `json:"response_rate"`
}

// Timestamp formats t the way every stored timestamp is formatted.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTimestamp parses a stored timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// ResponseRate is the share of interactions that got a published reply, in percent with one
// decimal.
func ResponseRate(replied, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(replied)/float64(total)*1000) / 10
}
