package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"versebot/internal/clock"
	"versebot/internal/compose"
	"versebot/internal/config"
	"versebot/internal/content"
	"versebot/internal/db"
	"versebot/internal/domain"
	"versebot/internal/engine"
	"versebot/internal/events"
	"versebot/internal/feed"
	"versebot/internal/ledger"
	"versebot/internal/llm"
	"versebot/internal/migrate"
	"versebot/internal/quota"
	"versebot/internal/remote"
	"versebot/internal/repo"
	"versebot/internal/store"
	"versebot/internal/triage"
)

type fakeFeed struct {
	mentions  []domain.InboundItem
	search    []domain.InboundItem
	readErr   error
	replyErr  error
	postErr   error
	posts     []string
	replies   []string
	parentIDs []string
	quota     *quota.Tracker
	seq       int
}

func (f *fakeFeed) FetchMentions(context.Context, string, int) ([]domain.InboundItem, error) {
	f.quota.RecordCall("mentions")
	return f.mentions, f.readErr
}

func (f *fakeFeed) SearchRecent(context.Context, string, int) ([]domain.InboundItem, error) {
	f.quota.RecordCall("search")
	return f.search, f.readErr
}

func (f *fakeFeed) PublishPost(_ context.Context, text string) (string, error) {
	if f.postErr != nil {
		return "", f.postErr
	}
	f.seq++
	f.posts = append(f.posts, text)
	return fmt.Sprintf("post-%d", f.seq), nil
}

func (f *fakeFeed) PublishReply(_ context.Context, parentID, text string) (string, error) {
	if f.replyErr != nil {
		return "", f.replyErr
	}
	f.seq++
	f.replies = append(f.replies, text)
	f.parentIDs = append(f.parentIDs, parentID)
	return fmt.Sprintf("reply-%d", f.seq), nil
}

type testEnv struct {
	Engine engine.Engine
	Store  store.Store
	Feed   *fakeFeed
	Clock  *clock.FakeClock
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC))
	r := repo.New(conn)
	r.Events.Now = clk.Now
	cfg := config.Default()
	cfg.Bot.UserID = "bot"
	cfg.Bot.Timezone = "UTC"

	q := quota.New(cfg.Limits.MonthlyQuota, nil, nil)
	ff := &fakeFeed{quota: q}
	led := ledger.New(r, nil, nil)
	led.Now = clk.Now
	eng := engine.Engine{
		Store:    r,
		Ledger:   led,
		Quota:    q,
		Feed:     ff,
		Content:  content.Static{Intn: func(int) int { return 0 }},
		Triage:   triage.Pipeline{History: led, Config: cfg.TriageConfig(), Now: clk.Now},
		Composer: compose.New(nil, cfg.Limits.PostCeiling, nil),
		Config:   cfg,
		Location: time.UTC,
		Now:      clk.Now,
	}
	return testEnv{Engine: eng, Store: r, Feed: ff, Clock: clk, Ctx: context.Background()}
}

func mention(id, author, text string) domain.InboundItem {
	return domain.InboundItem{ID: id, AuthorID: author, Text: text, CreatedAt: time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)}
}

func TestDailyPostForceUpsertsTodaysRow(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.RunDailyPost(env.Ctx, false)
	if err != nil {
		t.Fatalf("daily post: %v", err)
	}
	if first.Skipped || first.Post.PostID != "post-1" {
		t.Fatalf("unexpected first run %+v", first)
	}
	if first.Post.ReplyPostID == nil || *first.Post.ReplyPostID != "reply-2" {
		t.Fatalf("expected reflection reply, got %+v", first.Post.ReplyPostID)
	}
	if env.Feed.parentIDs[0] != "post-1" || env.Feed.replies[0] != compose.ReflectionFallback {
		t.Fatalf("reflection should reply to the post: %v %v", env.Feed.parentIDs, env.Feed.replies)
	}

	again, err := env.Engine.RunDailyPost(env.Ctx, false)
	if err != nil || !again.Skipped {
		t.Fatalf("second run should skip: %+v %v", again, err)
	}
	if len(env.Feed.posts) != 1 {
		t.Fatalf("expected one post, got %d", len(env.Feed.posts))
	}

	forced, err := env.Engine.RunDailyPost(env.Ctx, true)
	if err != nil || forced.Skipped {
		t.Fatalf("forced run: %+v %v", forced, err)
	}
	posts, err := env.Store.ListDailyPosts(env.Ctx, "2025-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected one row for today, got %d", len(posts))
	}
	if posts[0].PostID != forced.Post.PostID || !posts[0].Forced {
		t.Fatalf("row not overwritten: %+v", posts[0])
	}
	if !strings.Contains(env.Feed.posts[0], "John 3:16") {
		t.Fatalf("post should carry the verse: %q", env.Feed.posts[0])
	}
}

func TestDailyPostUsesConfiguredTimezone(t *testing.T) {
	env := newTestEnv(t)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("no tzdata")
	}
	env.Engine.Location = ny
	env.Clock.Set(time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC))
	if got := env.Engine.Today(); got != "2025-03-01" {
		t.Fatalf("expected local date 2025-03-01, got %s", got)
	}
}

func TestDailyPostSurvivesReflectionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Feed.replyErr = errors.New("reply down")
	res, err := env.Engine.RunDailyPost(env.Ctx, false)
	if err != nil {
		t.Fatalf("daily post: %v", err)
	}
	if res.Post.ReplyPostID != nil {
		t.Fatalf("expected no reflection id")
	}
	if _, err := env.Store.GetDailyPost(env.Ctx, "2025-03-01"); err != nil {
		t.Fatalf("row should be stored: %v", err)
	}
}

func TestDailyPostPublishFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	env.Feed.postErr = remote.FromStatus("feed.publish_post", 503, "down")
	if _, err := env.Engine.RunDailyPost(env.Ctx, false); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := env.Store.GetDailyPost(env.Ctx, "2025-03-01"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no row, got %v", err)
	}
}

func TestMentionSweepNeverRepliesTwice(t *testing.T) {
	env := newTestEnv(t)
	env.Feed.mentions = []domain.InboundItem{mention("T1", "A1", "@bot please pray for my mom")}

	res, err := env.Engine.RunMentionSweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Outcome != engine.OutcomeReplied || res.Category != compose.IntentPrayerRequest {
		t.Fatalf("unexpected result %+v", res)
	}
	env.Clock.Advance(2 * time.Hour)
	res, err = env.Engine.RunMentionSweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Outcome != engine.OutcomeNoneFound {
		t.Fatalf("second sweep should select nothing, got %+v", res)
	}
	if len(env.Feed.replies) != 1 || env.Feed.parentIDs[0] != "T1" {
		t.Fatalf("expected one reply to T1, got %v", env.Feed.parentIDs)
	}
	in, err := env.Store.GetInteraction(env.Ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if in.Status != domain.StatusCompleted || in.ReplyID == nil || *in.ReplyID != "reply-1" {
		t.Fatalf("unexpected row %+v", in)
	}
	if got := env.Engine.Quota.Snapshot().Made; got != 2 {
		t.Fatalf("expected 2 read calls, got %d", got)
	}
}

func TestMentionSweepRecordsOnlySelectedItem(t *testing.T) {
	env := newTestEnv(t)
	env.Feed.mentions = []domain.InboundItem{
		mention("T1", "A1", "@bot please pray for me, I feel hopeless"),
		mention("T2", "A2", "@bot nice weather"),
	}
	res, err := env.Engine.RunMentionSweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Selected != "T1" {
		t.Fatalf("expected T1 selected, got %+v", res)
	}
	if _, err := env.Store.GetInteraction(env.Ctx, "T2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unselected item must not be recorded, got %v", err)
	}
	if _, err := env.Store.GetActor(env.Ctx, "A2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unselected author must not get a profile, got %v", err)
	}
}

func TestMentionSweepRecordsDecline(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Composer.Gen = llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		return domain.NoReply, nil
	})
	env.Feed.mentions = []domain.InboundItem{mention("T2", "A2", "@bot buy my course")}

	res, err := env.Engine.RunMentionSweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Outcome != engine.OutcomeDeclined {
		t.Fatalf("expected decline, got %+v", res)
	}
	if len(env.Feed.replies) != 0 {
		t.Fatalf("declined item must not be published")
	}
	in, err := env.Store.GetInteraction(env.Ctx, "T2")
	if err != nil {
		t.Fatal(err)
	}
	if in.Status != domain.StatusCompleted || in.ReplyID != nil || in.OutcomeText == nil || *in.OutcomeText != domain.NoReply {
		t.Fatalf("unexpected row %+v", in)
	}
}

func TestRateLimitedReadIsAnEmptyCycle(t *testing.T) {
	env := newTestEnv(t)
	env.Feed.readErr = remote.FromStatus("feed.mentions", 429, "Too Many Requests")
	res, err := env.Engine.RunMentionSweep(env.Ctx)
	if err != nil {
		t.Fatalf("rate limit should not fail the cycle: %v", err)
	}
	if res.Outcome != engine.OutcomeNoData {
		t.Fatalf("expected no_data, got %+v", res)
	}

	for _, readErr := range []error{
		remote.FromStatus("feed.search", 503, "Service Unavailable"),
		remote.Wrap("feed.search", context.DeadlineExceeded),
	} {
		env.Feed.readErr = readErr
		res, err := env.Engine.RunKeywordSearch(env.Ctx)
		if err != nil {
			t.Fatalf("unreachable feed should not fail the cycle: %v", err)
		}
		if res.Outcome != engine.OutcomeNoData {
			t.Fatalf("expected no_data for %v, got %+v", readErr, res)
		}
	}
	finished, err := env.Store.LatestEvents(env.Ctx, 10, events.CycleFinished)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(finished) != 3 {
		t.Fatalf("expected an audit row per empty cycle, got %d", len(finished))
	}

	env.Feed.readErr = remote.FromStatus("feed.search", 401, "Unauthorized")
	if _, err := env.Engine.RunKeywordSearch(env.Ctx); !remote.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestFailedReplyWaitsForReopen(t *testing.T) {
	env := newTestEnv(t)
	env.Feed.mentions = []domain.InboundItem{mention("T3", "A3", "@bot struggling today")}
	env.Feed.replyErr = remote.FromStatus("feed.publish_reply", 403, "duplicate content")

	res, err := env.Engine.RunMentionSweep(env.Ctx)
	if err != nil || res.Outcome != engine.OutcomeFailed {
		t.Fatalf("expected failed outcome: %+v %v", res, err)
	}
	env.Feed.replyErr = nil
	env.Clock.Advance(time.Hour)
	if res, _ := env.Engine.RunMentionSweep(env.Ctx); res.Outcome != engine.OutcomeNoneFound {
		t.Fatalf("failed rows are not retried automatically, got %+v", res)
	}

	if err := env.Engine.Reopen(env.Ctx, "T3"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	res, err = env.Engine.RunMentionSweep(env.Ctx)
	if err != nil || res.Outcome != engine.OutcomeReplied {
		t.Fatalf("reopened item should be answered: %+v %v", res, err)
	}
	if err := env.Engine.Reopen(env.Ctx, "T3"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("completed rows cannot be reopened, got %v", err)
	}
}

func TestKeywordSearchRepliesWithMoodVerse(t *testing.T) {
	env := newTestEnv(t)
	env.Feed.search = []domain.InboundItem{
		mention("S1", "B1", "RT @someone pray for me"),
		mention("S2", "B2", "vote for me, pray"),
		mention("S3", "B3", "please pray for me, I feel so lost?"),
	}
	res, err := env.Engine.RunKeywordSearch(env.Ctx)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Selected != "S3" || res.Category != string(content.DefaultMood) {
		t.Fatalf("unexpected selection %+v", res)
	}
	if !strings.HasPrefix(res.ReplyText, "🙏 \"For God so loved the world") {
		t.Fatalf("expected verse reply, got %q", res.ReplyText)
	}
	in, err := env.Store.GetInteraction(env.Ctx, "S3")
	if err != nil {
		t.Fatal(err)
	}
	if in.Source != domain.SourceSearch || in.Category != "sad" {
		t.Fatalf("unexpected row %+v", in)
	}
}

func TestDryRunStillRecordsOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Feed = feed.NewDryRun(env.Feed, nil)
	env.Feed.mentions = []domain.InboundItem{mention("T4", "A4", "@bot thank you, blessed day")}

	res, err := env.Engine.RunMentionSweep(env.Ctx)
	if err != nil || res.Outcome != engine.OutcomeReplied {
		t.Fatalf("dry run sweep: %+v %v", res, err)
	}
	if !feed.IsSynthetic(res.ReplyID) {
		t.Fatalf("expected synthetic id, got %s", res.ReplyID)
	}
	if len(env.Feed.replies) != 0 {
		t.Fatalf("dry run must not publish")
	}
	if got := env.Engine.Quota.Snapshot().Made; got != 1 {
		t.Fatalf("reads still count in dry run, got %d", got)
	}
	in, err := env.Store.GetInteraction(env.Ctx, "T4")
	if err != nil {
		t.Fatal(err)
	}
	if in.Status != domain.StatusCompleted || in.ReplyID == nil || *in.ReplyID != res.ReplyID {
		t.Fatalf("unexpected row %+v", in)
	}
}

// lossyStore drops every outcome write, as if the process died right after publishing.
type lossyStore struct {
	store.Store
}

func (lossyStore) CompleteInteraction(context.Context, string, string, *string, string) error {
	return errors.New("disk full")
}

func TestLostOutcomeWriteAllowsSecondAttempt(t *testing.T) {
	env := newTestEnv(t)
	lossy := lossyStore{Store: env.Store}
	env.Engine.Ledger.Store = lossy
	env.Engine.Triage.History = env.Engine.Ledger
	env.Feed.mentions = []domain.InboundItem{mention("T5", "A5", "@bot need prayer")}

	if res, err := env.Engine.RunMentionSweep(env.Ctx); err != nil || res.Outcome != engine.OutcomeReplied {
		t.Fatalf("first sweep: %+v %v", res, err)
	}
	in, err := env.Store.GetInteraction(env.Ctx, "T5")
	if err != nil {
		t.Fatal(err)
	}
	if in.Status != domain.StatusPending {
		t.Fatalf("outcome write was lost, row should stay pending: %+v", in)
	}

	env.Clock.Advance(2 * time.Hour)
	if res, err := env.Engine.RunMentionSweep(env.Ctx); err != nil || res.Outcome != engine.OutcomeReplied {
		t.Fatalf("second sweep: %+v %v", res, err)
	}
	if len(env.Feed.replies) != 2 {
		t.Fatalf("expected the accepted duplicate attempt, got %d replies", len(env.Feed.replies))
	}
}

func TestStatsStatusAndCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.Clock.Set(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	env.Engine.Ledger.RecordPending(env.Ctx, mention("OLD", "A6", "hello"), compose.IntentGeneral, domain.SourceMention)
	env.Clock.Set(time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC))

	env.Feed.mentions = []domain.InboundItem{mention("T6", "A7", "@bot pray for me")}
	if _, err := env.Engine.RunMentionSweep(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RunDailyPost(env.Ctx, false); err != nil {
		t.Fatal(err)
	}

	stats, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalInteractions != 2 || stats.Completed != 1 || stats.Pending != 1 || stats.Today != 1 || stats.UniqueUsers != 2 {
		t.Fatalf("unexpected stats %+v", stats.Stats)
	}
	if stats.ResponseRate != 50 || stats.Quota.Made != 1 {
		t.Fatalf("unexpected rate/quota %+v", stats)
	}

	next := []engine.NextRun{{Job: "daily_post", Next: time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)}}
	status, err := env.Engine.Status(env.Ctx, next)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.History) != 1 || status.History[0].Date != "2025-03-01" || len(status.NextRuns) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if err := env.Engine.LogStatus(env.Ctx); err != nil {
		t.Fatal(err)
	}

	if n := env.Engine.Cleanup(env.Ctx, 30); n != 1 {
		t.Fatalf("expected one stale pending row purged, got %d", n)
	}
	if _, err := env.Store.GetInteraction(env.Ctx, "T6"); err != nil {
		t.Fatalf("completed rows are kept: %v", err)
	}
	evts, err := env.Store.LatestEvents(env.Ctx, 50, "cycle.finished")
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one cycle event, got %d %v", len(evts), err)
	}
}
