// Package app wires configuration into a ready engine and scheduler. Commands and the status
// server share it so every entry point builds the same graph.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"versebot/internal/clock"
	"versebot/internal/compose"
	"versebot/internal/config"
	"versebot/internal/content"
	"versebot/internal/db"
	"versebot/internal/engine"
	"versebot/internal/feed"
	"versebot/internal/ledger"
	"versebot/internal/llm"
	"versebot/internal/metrics"
	"versebot/internal/migrate"
	"versebot/internal/pgstore"
	"versebot/internal/quota"
	"versebot/internal/repo"
	"versebot/internal/scheduler"
	"versebot/internal/store"
	"versebot/internal/triage"
)

type Options struct {
	Workspace string
	DryRun    bool
	Clock     clock.Clock
}

type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Store   store.Store
	Quota   *quota.Tracker
	Engine  engine.Engine
	Clock   clock.Clock
	DryRun  bool
}

// OpenStore returns Postgres when a database URL is configured and the workspace SQLite file
// otherwise. Both come back migrated.
func OpenStore(ctx context.Context, cfg *config.Config, workspace string) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repo.New(conn), nil
}

// OpenReadOnly opens just the store for commands that never call remote services.
func OpenReadOnly(ctx context.Context, cfg *config.Config, workspace string, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	st, err := OpenStore(ctx, cfg, workspace)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	m := metrics.New()
	q := quota.New(cfg.Limits.MonthlyQuota, log, m)
	a := &App{Config: cfg, Log: log, Metrics: m, Store: st, Quota: q, Clock: clock.Real{}}
	a.Engine = engine.Engine{
		Store:    st,
		Ledger:   ledger.New(st, log, m),
		Quota:    q,
		Config:   cfg,
		Log:      log.Named("engine"),
		Metrics:  m,
		Location: loc,
		Now:      a.Clock.Now,
	}
	return a, nil
}

// Build validates cfg and wires every collaborator.
func Build(ctx context.Context, cfg *config.Config, opts Options, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(opts.DryRun); err != nil {
		return nil, err
	}
	a, err := OpenReadOnly(ctx, cfg, opts.Workspace, log)
	if err != nil {
		return nil, err
	}
	if opts.Clock != nil {
		a.Clock = opts.Clock
		a.Engine.Now = opts.Clock.Now
	}
	a.DryRun = opts.DryRun

	gen, err := NewGenerator(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	var src content.Source
	if cfg.Secrets.BibleAPIKey != "" {
		api := content.NewBibleAPI(cfg.Secrets.BibleAPIKey, cfg.Content.Version, log)
		if cfg.Content.BaseURL != "" {
			api.BaseURL = cfg.Content.BaseURL
		}
		src = api
	}

	x := feed.NewXClient(cfg.Secrets.XBearerToken, cfg.Secrets.XUserToken, cfg.Bot.UserID, a.Quota, log)
	var fc feed.Client = x
	if opts.DryRun {
		fc = feed.NewDryRun(x, log)
		log.Info("app.dry_run", zap.String("note", "publishes are simulated"))
	}

	led := a.Engine.Ledger
	led.Now = a.Clock.Now
	pipeline := triage.Pipeline{
		History: led,
		Config:  cfg.TriageConfig(),
		Now:     a.Clock.Now,
		Log:     log.Named("triage"),
		Metrics: a.Metrics,
	}
	if gen != nil {
		pipeline.Classifier = triage.LLMClassifier{Gen: gen, System: compose.SystemPrompt}
	}

	a.Engine.Ledger = led
	a.Engine.Feed = fc
	a.Engine.Content = content.NewLibrary(src, log)
	a.Engine.Triage = pipeline
	a.Engine.Composer = compose.New(gen, cfg.Limits.PostCeiling, log)
	return a, nil
}

// NewGenerator returns the configured text generator, or nil when none is configured and
// every reply comes from canned text.
func NewGenerator(ctx context.Context, cfg *config.Config, log *zap.Logger) (llm.Generator, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "":
		return nil, nil
	case "gemini":
		g, err := llm.NewGemini(ctx, cfg.Secrets.GeminiAPIKey, cfg.LLM.Models, log)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return g, nil
	case "openai":
		model := llm.DefaultOpenAIModel
		if len(cfg.LLM.Models) > 0 {
			model = cfg.LLM.Models[0]
		}
		return llm.NewOpenAI(cfg.Secrets.OpenAIAPIKey, cfg.LLM.BaseURL, model, log), nil
	default:
		return nil, fmt.Errorf("%w: llm provider %q", config.ErrConfiguration, cfg.LLM.Provider)
	}
}

// Job names, as logged and shown by status.
const (
	JobDailyPost   = "daily_post"
	JobMentions    = "mention_sweep"
	JobSearch      = "keyword_search"
	JobCleanup     = "cleanup"
	JobStatus      = "status"
	JobLockRefresh = "lock_refresh"
)

// Scheduler registers the bot's jobs on a new scheduler.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	cfg := a.Config
	loc := a.Engine.Location
	postH, postM, err := config.ParseClock(cfg.Schedule.PostingTime)
	if err != nil {
		return nil, err
	}
	searchH, searchM, err := config.ParseClock(cfg.Schedule.SearchTime)
	if err != nil {
		return nil, err
	}
	cleanH, cleanM, err := config.ParseClock(cfg.Schedule.CleanupTime)
	if err != nil {
		return nil, err
	}

	s := scheduler.New(a.Clock, a.Log, a.Metrics)
	eng := a.Engine
	s.Add(JobDailyPost, scheduler.DailyAt(postH, postM, loc), func(ctx context.Context) error {
		_, err := eng.RunDailyPost(ctx, false)
		return err
	})
	s.Add(JobMentions, scheduler.Every(time.Duration(cfg.Schedule.MentionIntervalHours)*time.Hour, true), func(ctx context.Context) error {
		_, err := eng.RunMentionSweep(ctx)
		return err
	})
	s.Add(JobSearch, scheduler.EveryNDays(cfg.Schedule.SearchIntervalDays, searchH, searchM, loc), func(ctx context.Context) error {
		_, err := eng.RunKeywordSearch(ctx)
		return err
	})
	s.Add(JobCleanup, scheduler.DailyAt(cleanH, cleanM, loc), func(ctx context.Context) error {
		eng.Cleanup(ctx, cfg.Schedule.CleanupDays)
		return nil
	})
	s.Add(JobStatus, scheduler.Every(time.Duration(cfg.Schedule.StatusIntervalMinutes)*time.Minute, false), eng.LogStatus)
	return s, nil
}

// NextRuns converts the scheduler's view for the status report.
func NextRuns(s *scheduler.Scheduler) []engine.NextRun {
	if s == nil {
		return nil
	}
	var out []engine.NextRun
	for _, r := range s.NextRuns() {
		out = append(out, engine.NextRun{Job: r.Job, Next: r.Next})
	}
	return out
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
