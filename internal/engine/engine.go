// Package engine runs the bot's cycles: the daily post, the mention sweep and the keyword
// search. Every cycle acts on at most one inbound item and records it in the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"versebot/internal/compose"
	"versebot/internal/config"
	"versebot/internal/content"
	"versebot/internal/domain"
	"versebot/internal/events"
	"versebot/internal/feed"
	"versebot/internal/ledger"
	"versebot/internal/metrics"
	"versebot/internal/quota"
	"versebot/internal/remote"
	"versebot/internal/store"
	"versebot/internal/triage"
)

type Engine struct {
	Store    store.Store
	Ledger   ledger.Ledger
	Quota    *quota.Tracker
	Feed     feed.Client
	Content  content.Source
	Triage   triage.Pipeline
	Composer compose.Composer
	Config   *config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Location *time.Location
	Now      func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// Today is the posting date in the configured timezone.
func (e Engine) Today() string {
	return e.now().In(e.location()).Format("2006-01-02")
}

// DailyResult describes one run of RunDailyPost.
type DailyResult struct {
	Skipped bool             `json:"skipped"`
	Post    domain.DailyPost `json:"post"`
}

// RunDailyPost publishes today's verse and a reflection reply to it. Without force it does
// nothing when today's post already exists; with force it publishes again and overwrites the
// row for today.
func (e Engine) RunDailyPost(ctx context.Context, force bool) (DailyResult, error) {
	log := e.log().With(zap.String("job", "daily_post"))
	date := e.Today()
	if !force {
		existing, err := e.Store.GetDailyPost(ctx, date)
		if err == nil {
			log.Info("daily_post.already_posted", zap.String("date", date), zap.String("post_id", existing.PostID))
			return DailyResult{Skipped: true, Post: existing}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return DailyResult{}, fmt.Errorf("read daily post: %w", err)
		}
	}

	verse, err := e.Content.LookupRandom(ctx)
	if err != nil {
		return DailyResult{}, fmt.Errorf("lookup verse: %w", err)
	}
	text := e.Composer.ComposeScheduledPost(verse)
	postID, err := e.Feed.PublishPost(ctx, text)
	if err != nil {
		return DailyResult{}, fmt.Errorf("publish daily post: %w", err)
	}
	log.Info("daily_post.published", zap.String("post_id", postID), zap.String("reference", verse.Reference))

	post := domain.DailyPost{
		Date:           date,
		VerseReference: verse.Reference,
		VerseText:      verse.Text,
		PostID:         postID,
		PostedAt:       domain.Timestamp(e.now()),
		Forced:         force,
	}
	reflection := e.Composer.ComposeReflection(ctx, verse)
	if replyID, err := e.Feed.PublishReply(ctx, postID, reflection); err != nil {
		log.Warn("daily_post.reflection_failed", zap.String("post_id", postID), zap.Error(err))
	} else {
		post.ReplyPostID = &replyID
	}

	if err := e.Store.UpsertDailyPost(ctx, post); err != nil {
		// The post is already live; losing the row only weakens the next skip check.
		log.Error("daily_post.record_failed", zap.String("date", date), zap.Error(err))
	}
	return DailyResult{Post: post}, nil
}

// CycleResult describes one mention sweep or keyword search.
type CycleResult struct {
	Source    string `json:"source"`
	Fetched   int    `json:"fetched"`
	Selected  string `json:"selected,omitempty"`
	Category  string `json:"category,omitempty"`
	Outcome   string `json:"outcome"`
	ReplyID   string `json:"reply_id,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`
}

// Cycle outcomes.
const (
	OutcomeNoData    = "no_data"
	OutcomeNoneFound = "none_selected"
	OutcomeReplied   = "replied"
	OutcomeDeclined  = "declined"
	OutcomeFailed    = "failed"
)

// RunMentionSweep reads recent mentions and answers at most one of them.
func (e Engine) RunMentionSweep(ctx context.Context) (CycleResult, error) {
	res := CycleResult{Source: domain.SourceMention}
	items, err := e.Feed.FetchMentions(ctx, "", e.Config.Limits.MentionBatch)
	if err != nil {
		return e.readFailed(ctx, res, err)
	}
	res.Fetched = len(items)

	sel, ok := e.Triage.Select(ctx, items, false)
	if !ok {
		res.Outcome = OutcomeNoneFound
		e.finishCycle(ctx, res)
		return res, nil
	}
	sel.Category = compose.AnalyzeIntent(sel.Item.Text)
	return e.deliver(ctx, res, sel, nil), nil
}

// RunKeywordSearch searches for people asking for prayer and answers at most one of them with
// a verse matched to their mood.
func (e Engine) RunKeywordSearch(ctx context.Context) (CycleResult, error) {
	res := CycleResult{Source: domain.SourceSearch}
	items, err := e.Feed.SearchRecent(ctx, e.Config.Search.Query, e.Config.Limits.SearchBatch)
	if err != nil {
		return e.readFailed(ctx, res, err)
	}
	res.Fetched = len(items)

	cands := triage.FilterCandidates(items, e.Config.Triage.Prefilter, e.Config.Triage.Keywords)
	sel, ok := e.Triage.Select(ctx, cands, true)
	if !ok {
		res.Outcome = OutcomeNoneFound
		e.finishCycle(ctx, res)
		return res, nil
	}
	verse, err := e.Content.LookupByTag(ctx, content.ParseMood(sel.Category))
	if err != nil {
		e.log().Warn("cycle.verse_unavailable", zap.String("item_id", sel.Item.ID), zap.Error(err))
		return e.deliver(ctx, res, sel, nil), nil
	}
	return e.deliver(ctx, res, sel, &verse), nil
}

// readFailed turns a rate-limited or unreachable feed into an empty cycle. Permanent read
// errors are returned.
func (e Engine) readFailed(ctx context.Context, res CycleResult, err error) (CycleResult, error) {
	if remote.IsNoData(err) || remote.IsTransient(err) {
		e.log().Warn("cycle.no_data", zap.String("source", res.Source),
			zap.String("kind", remote.KindOf(err).String()), zap.Error(err))
		res.Outcome = OutcomeNoData
		e.finishCycle(ctx, res)
		return res, nil
	}
	return res, fmt.Errorf("read %s: %w", res.Source, err)
}

// deliver records, composes and publishes the reply for one selected item. It never returns
// an error: every outcome ends up in the ledger.
func (e Engine) deliver(ctx context.Context, res CycleResult, sel triage.Selection, verse *content.Verse) CycleResult {
	log := e.log().With(zap.String("source", res.Source), zap.String("item_id", sel.Item.ID))
	res.Selected = sel.Item.ID
	res.Category = sel.Category

	e.Ledger.RecordPending(ctx, sel.Item, sel.Category, res.Source)
	text := e.Composer.ComposeReply(ctx, sel.Item, sel.Category, verse)
	if text == domain.NoReply {
		e.Ledger.RecordOutcome(ctx, sel.Item.ID, domain.NoReply, "")
		log.Info("cycle.declined")
		res.Outcome = OutcomeDeclined
		e.finishCycle(ctx, res)
		return res
	}

	replyID, err := e.Feed.PublishReply(ctx, sel.Item.ID, text)
	if err != nil {
		e.Ledger.RecordFailure(ctx, sel.Item.ID, err.Error())
		log.Error("cycle.reply_failed", zap.String("kind", remote.KindOf(err).String()), zap.Error(err))
		res.Outcome = OutcomeFailed
		e.finishCycle(ctx, res)
		return res
	}
	e.Ledger.RecordOutcome(ctx, sel.Item.ID, text, replyID)
	log.Info("cycle.replied", zap.String("reply_id", replyID), zap.String("category", sel.Category))
	res.Outcome = OutcomeReplied
	res.ReplyID = replyID
	res.ReplyText = text
	e.finishCycle(ctx, res)
	return res
}

func (e Engine) finishCycle(ctx context.Context, res CycleResult) {
	payload := map[string]any{
		"source":  res.Source,
		"fetched": res.Fetched,
		"outcome": res.Outcome,
	}
	if res.Selected != "" {
		payload["item_id"] = res.Selected
	}
	if err := e.Store.AppendEvent(ctx, events.CycleFinished, "cycle", res.Source, payload); err != nil {
		e.log().Error("cycle.audit_failed", zap.String("source", res.Source), zap.Error(err))
	}
}

// StatsReport is the aggregate operator view.
type StatsReport struct {
	domain.Stats
	Quota quota.Snapshot `json:"quota"`
}

func (e Engine) Stats(ctx context.Context) (StatsReport, error) {
	local := e.now().In(e.location())
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location())
	s, err := e.Store.Stats(ctx, domain.Timestamp(dayStart))
	if err != nil {
		return StatsReport{}, fmt.Errorf("stats: %w", err)
	}
	rep := StatsReport{Stats: s}
	if e.Quota != nil {
		rep.Quota = e.Quota.Snapshot()
	}
	return rep, nil
}

// Cleanup deletes pending rows older than days. The store audits the purge.
func (e Engine) Cleanup(ctx context.Context, days int) int64 {
	return e.Ledger.PurgeStalePending(ctx, days)
}

// NextRun is one scheduled job's next due time.
type NextRun struct {
	Job  string    `json:"job"`
	Next time.Time `json:"next"`
}

type StatusReport struct {
	StatsReport
	History  []domain.DailyPost `json:"history"`
	NextRuns []NextRun          `json:"next_runs,omitempty"`
}

// Status combines stats, the last seven days of daily posts and the scheduler's next runs.
func (e Engine) Status(ctx context.Context, next []NextRun) (StatusReport, error) {
	stats, err := e.Stats(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	since := e.now().In(e.location()).AddDate(0, 0, -6).Format("2006-01-02")
	history, err := e.Store.ListDailyPosts(ctx, since)
	if err != nil {
		return StatusReport{}, fmt.Errorf("daily history: %w", err)
	}
	return StatusReport{StatsReport: stats, History: history, NextRuns: next}, nil
}

// LogStatus writes the aggregate counts the hourly status job reports.
func (e Engine) LogStatus(ctx context.Context) error {
	rep, err := e.Stats(ctx)
	if err != nil {
		return err
	}
	e.log().Info("status",
		zap.Int("total_interactions", rep.TotalInteractions),
		zap.Int("completed", rep.Completed),
		zap.Int("failed", rep.Failed),
		zap.Int("pending", rep.Pending),
		zap.Int("quota_remaining", rep.Quota.Remaining),
		zap.Float64("quota_percent_used", rep.Quota.PercentUsed))
	return nil
}

// Reopen makes a failed interaction eligible for the next sweep.
func (e Engine) Reopen(ctx context.Context, itemID string) error {
	if err := e.Ledger.Reopen(ctx, itemID); err != nil {
		return fmt.Errorf("reopen %s: %w", itemID, err)
	}
	return nil
}
