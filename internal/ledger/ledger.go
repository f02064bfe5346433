// Package ledger is the duplicate-suppression authority: it records the inbound item each cycle
// selects and the outcome it produced.
//
// Only the selected item gets a pending row. Items that were fetched but not selected leave no
// trace, so author profiles, cooldowns and the hourly cap only count items the bot acted on,
// and an unselected item stays eligible for a later cycle.
//
// Reads fail toward "not handled" and writes never propagate errors to the caller. A reply that
// was published but whose outcome write failed is therefore indistinguishable from a pending
// row after a restart, and may be attempted again. The platform rejects exact duplicate text,
// which bounds the damage; this gap is accepted rather than patched with remote lookups that
// would spend the same read quota the ledger protects.
package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"versebot/internal/domain"
	"versebot/internal/metrics"
	"versebot/internal/store"
)

type Ledger struct {
	Store   store.Store
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(s store.Store, log *zap.Logger, m *metrics.Metrics) Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return Ledger{Store: s, Log: log.Named("ledger"), Metrics: m, Now: time.Now}
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Ledger) log() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

// HasHandled reports whether itemID already has an outcome (non-null outcome text, completed,
// or failed). It only consults local storage.
func (l Ledger) HasHandled(ctx context.Context, itemID string) bool {
	in, err := l.Store.GetInteraction(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		l.log().Error("ledger.read_failed", zap.String("item_id", itemID), zap.Error(err))
		return false
	}
	return in.Handled()
}

// RecordPending upserts a pending row for item and bumps the author's profile.
func (l Ledger) RecordPending(ctx context.Context, item domain.InboundItem, category, source string) {
	in := domain.Interaction{
		ItemID:      item.ID,
		AuthorID:    item.AuthorID,
		Username:    item.AuthorUsername,
		InboundText: item.Text,
		Category:    category,
		Source:      source,
		Status:      domain.StatusPending,
		CreatedAt:   domain.Timestamp(l.now()),
	}
	if err := l.Store.UpsertPending(ctx, in); err != nil {
		l.log().Error("ledger.write_failed",
			zap.String("op", "record_pending"),
			zap.String("item_id", item.ID),
			zap.String("author_id", item.AuthorID),
			zap.Error(err))
	}
}

// RecordOutcome marks itemID completed. outcomeItemID is empty when the bot declined to reply.
func (l Ledger) RecordOutcome(ctx context.Context, itemID, outcomeText, outcomeItemID string) {
	var replyID *string
	if outcomeItemID != "" {
		replyID = &outcomeItemID
	}
	if err := l.Store.CompleteInteraction(ctx, itemID, outcomeText, replyID, domain.Timestamp(l.now())); err != nil {
		l.log().Error("ledger.write_failed",
			zap.String("op", "record_outcome"),
			zap.String("item_id", itemID),
			zap.String("reply_id", outcomeItemID),
			zap.Error(err))
		return
	}
	outcome := "replied"
	if replyID == nil {
		outcome = "declined"
	}
	l.Metrics.Outcome(outcome)
}

// RecordFailure marks itemID failed. Failed rows are not retried automatically.
func (l Ledger) RecordFailure(ctx context.Context, itemID, reason string) {
	if err := l.Store.FailInteraction(ctx, itemID, reason, domain.Timestamp(l.now())); err != nil {
		l.log().Error("ledger.write_failed",
			zap.String("op", "record_failure"),
			zap.String("item_id", itemID),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	l.Metrics.Outcome("failed")
}

// Reopen moves a failed row back to pending so the next sweep can pick it up again.
func (l Ledger) Reopen(ctx context.Context, itemID string) error {
	return l.Store.ReopenInteraction(ctx, itemID, domain.Timestamp(l.now()))
}

// PurgeStalePending deletes pending rows older than olderThanDays. Completed and failed rows are
// kept forever.
func (l Ledger) PurgeStalePending(ctx context.Context, olderThanDays int) int64 {
	if olderThanDays <= 0 {
		olderThanDays = 30
	}
	cutoff := l.now().AddDate(0, 0, -olderThanDays)
	n, err := l.Store.DeletePendingBefore(ctx, domain.Timestamp(cutoff))
	if err != nil {
		l.log().Error("ledger.write_failed", zap.String("op", "purge_pending"), zap.Error(err))
		return 0
	}
	l.log().Info("ledger.purged", zap.Int64("deleted", n), zap.Int("older_than_days", olderThanDays))
	return n
}

// LastInteraction returns when the bot last engaged authorID.
func (l Ledger) LastInteraction(ctx context.Context, authorID string) (time.Time, bool) {
	a, err := l.Store.GetActor(ctx, authorID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false
	}
	if err != nil {
		l.log().Error("ledger.read_failed", zap.String("author_id", authorID), zap.Error(err))
		return time.Time{}, false
	}
	ts, err := domain.ParseTimestamp(a.LastInteractionAt)
	if err != nil {
		l.log().Error("ledger.bad_timestamp", zap.String("author_id", authorID), zap.Error(err))
		return time.Time{}, false
	}
	return ts, true
}

// CompletedSince counts completed rows responded after since.
func (l Ledger) CompletedSince(ctx context.Context, since time.Time) int {
	n, err := l.Store.CountCompletedSince(ctx, domain.Timestamp(since))
	if err != nil {
		l.log().Error("ledger.read_failed", zap.String("op", "completed_since"), zap.Error(err))
		return 0
	}
	return n
}
