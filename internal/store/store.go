// Package store defines the persistence contract shared by every storage engine.
package store

import (
	"context"
	"errors"

	"versebot/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is implemented once per storage engine. Writes that touch more than one collection
// (interaction + actor + audit event) are atomic inside the implementation.
type Store interface {
	// UpsertPending inserts or refreshes a pending interaction, bumps the author's profile and
	// appends an audit event. Rows already completed or failed keep their status.
	UpsertPending(ctx context.Context, in domain.Interaction) error
	GetInteraction(ctx context.Context, itemID string) (domain.Interaction, error)
	CompleteInteraction(ctx context.Context, itemID, outcomeText string, replyID *string, respondedAt string) error
	FailInteraction(ctx context.Context, itemID, reason, at string) error
	// ReopenInteraction moves a failed row back to pending.
	ReopenInteraction(ctx context.Context, itemID, at string) error
	CountCompletedSince(ctx context.Context, since string) (int, error)
	DeletePendingBefore(ctx context.Context, before string) (int64, error)
	ListInteractions(ctx context.Context, limit int, status string) ([]domain.Interaction, error)

	GetActor(ctx context.Context, authorID string) (domain.ActorProfile, error)

	UpsertDailyPost(ctx context.Context, p domain.DailyPost) error
	GetDailyPost(ctx context.Context, date string) (domain.DailyPost, error)
	ListDailyPosts(ctx context.Context, sinceDate string) ([]domain.DailyPost, error)

	Stats(ctx context.Context, dayStart string) (domain.Stats, error)

	AppendEvent(ctx context.Context, evtType, entityKind, entityID string, payload map[string]any) error
	LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error)

	Close() error
}
