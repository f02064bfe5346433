// Package feed is the social platform collaborator: reading mentions and search hits,
// publishing posts and replies.
package feed

import (
	"context"

	"versebot/internal/domain"
)

// MaxPostLength is the platform's post ceiling, in characters.
const MaxPostLength = 280

// Client is the feed platform. A rate-limited read returns a remote.KindNoData error and the
// caller treats it as an empty cycle.
type Client interface {
	FetchMentions(ctx context.Context, sinceID string, count int) ([]domain.InboundItem, error)
	SearchRecent(ctx context.Context, query string, count int) ([]domain.InboundItem, error)
	PublishPost(ctx context.Context, text string) (string, error)
	PublishReply(ctx context.Context, parentID, text string) (string, error)
}

// CallRecorder counts remote read calls.
type CallRecorder interface {
	RecordCall(kind string)
}

// Clip hard-cuts text over MaxPostLength the way the platform client always has.
func Clip(text string) string {
	r := []rune(text)
	if len(r) <= MaxPostLength {
		return text
	}
	return string(r[:MaxPostLength-3]) + "..."
}
