package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"versebot/internal/app"
	"versebot/internal/config"
	"versebot/internal/db"
	"versebot/internal/engine"
	"versebot/internal/lock"
	"versebot/internal/logger"
	"versebot/internal/scheduler"
	"versebot/internal/server"
	versebotsdk "versebot/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "vb",
	Short: "Versebot CLI",
	Long: `Versebot posts a daily verse and answers people who ask for prayer or encouragement.
- Daily post: one verse per local day with a short reflection replying to it.
- Mention sweep: every few hours, read recent mentions and answer at most one.
- Keyword search: on its own schedule, search recent posts and answer at most one.
- Ledger: every inbound item is recorded once, so nobody is answered twice.
- Quota: reads are capped per month; the bot stops reading when the cap is reached.
- Dry run: reads are real, publishes are simulated.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("dry-run", false, "simulate publishes; reads stay real")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to versebot.yml in the workspace)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("dry-run", rootCmd.PersistentFlags().Lookup("dry-run"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(postDailyCmd())
	rootCmd.AddCommand(sweepMentionsCmd())
	rootCmd.AddCommand(searchKeywordsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(reopenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func runCmd() *cobra.Command {
	var noServer bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the status API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := app.Build(ctx, cfg, app.Options{
				Workspace: viper.GetString("workspace"),
				DryRun:    viper.GetBool("dry-run"),
			}, log)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.Scheduler()
			if err != nil {
				return err
			}
			if cfg.RedisURL != "" {
				release, err := holdLock(ctx, cfg.RedisURL, sched, log)
				if err != nil {
					return err
				}
				defer release()
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer stop()
				return sched.Run(gctx)
			})
			if !noServer {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Auth:     server.AuthConfig{JWTSecret: cfg.Secrets.JWTSecret},
					Metrics:  a.Metrics,
					NextRuns: func() []engine.NextRun { return app.NextRuns(sched) },
				})
				if err != nil {
					return err
				}
				g.Go(func() error {
					return server.Serve(gctx, cfg.Server.Addr, handler, log)
				})
			}
			log.Info("versebot.started",
				zap.Bool("dry_run", a.DryRun),
				zap.String("timezone", cfg.Bot.Timezone),
				zap.Bool("server", !noServer))
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("versebot.stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noServer, "no-server", false, "do not start the status API")
	return cmd
}

// holdLock takes the single-instance lock and registers a job that keeps it alive. A lost
// lock stops the scheduler.
func holdLock(ctx context.Context, url string, sched *scheduler.Scheduler, log *zap.Logger) (func(), error) {
	const ttl = 2 * time.Minute
	locker, err := lock.Open(url)
	if err != nil {
		return nil, err
	}
	token, ok, err := locker.TryLock(ctx, lock.DefaultKey, ttl)
	if err != nil {
		locker.Close()
		return nil, err
	}
	if !ok {
		locker.Close()
		return nil, fmt.Errorf("%w: another instance is running", lock.ErrHeld)
	}
	log.Info("lock.acquired", zap.String("key", lock.DefaultKey))
	sched.Add(app.JobLockRefresh, scheduler.Every(ttl/3, false), func(ctx context.Context) error {
		if err := locker.Extend(ctx, lock.DefaultKey, token, ttl); err != nil {
			log.Error("lock.lost", zap.Error(err))
			sched.Stop()
			return err
		}
		return nil
	})
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := locker.Release(ctx, lock.DefaultKey, token); err != nil {
			log.Warn("lock.release_failed", zap.Error(err))
		}
		locker.Close()
	}, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API without running jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := app.OpenReadOnly(ctx, cfg, viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Secrets.JWTSecret},
				Metrics:  a.Metrics,
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			fmt.Printf("Serving versebot API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			return server.Serve(ctx, addr, handler, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func postDailyCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "post-daily",
		Short: "Publish today's verse now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RunDailyPost(ctx, force)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Skipped {
					fmt.Printf("Daily post for %s already published (%s); use --force to post again\n", res.Post.Date, res.Post.PostID)
					return nil
				}
				fmt.Printf("Posted %s: %s (%s)\n", res.Post.Date, res.Post.VerseReference, res.Post.PostID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "publish even if today's post exists")
	return cmd
}

func sweepMentionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-mentions",
		Short: "Run one mention sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RunMentionSweep(ctx)
				if err != nil {
					return err
				}
				return printCycle(res)
			})
		},
	}
}

func searchKeywordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search-keywords",
		Short: "Run one keyword search now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RunKeywordSearch(ctx)
				if err != nil {
					return err
				}
				return printCycle(res)
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show interaction counts and quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				printStats(rep)
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	var remoteURL, token string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stats, recent daily posts and upcoming jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remoteURL != "" {
				client := versebotsdk.New(remoteURL)
				client.BearerToken = token
				st, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(st)
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				sched, err := a.Scheduler()
				if err != nil {
					return err
				}
				rep, err := a.Engine.Status(ctx, app.NextRuns(sched))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				printStats(rep.StatsReport)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle("Daily posts")
				tw.AppendHeader(table.Row{"Date", "Reference", "Post", "Forced"})
				for _, p := range rep.History {
					tw.AppendRow(table.Row{p.Date, p.VerseReference, p.PostID, p.Forced})
				}
				tw.Render()
				nw := table.NewWriter()
				nw.SetOutputMirror(os.Stdout)
				nw.SetTitle("Next runs")
				nw.AppendHeader(table.Row{"Job", "Next"})
				for _, r := range rep.NextRuns {
					nw.AppendRow(table.Row{r.Job, r.Next.In(a.Engine.Location).Format(time.RFC1123)})
				}
				nw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&remoteURL, "remote", "", "read status from a running server instead of the local store")
	cmd.Flags().StringVar(&token, "token", os.Getenv("VB_API_TOKEN"), "bearer token for --remote")
	return cmd
}

func cleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete pending interactions older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if days <= 0 {
					days = a.Config.Schedule.CleanupDays
				}
				n := a.Engine.Cleanup(ctx, days)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": n, "days": days})
				}
				fmt.Printf("Deleted %d pending interactions older than %d days\n", n, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "age threshold in days (defaults to schedule.cleanup_days)")
	return cmd
}

func reopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <item-id>",
		Short: "Make a failed interaction eligible for the next sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Reopen(ctx, args[0]); err != nil {
					return err
				}
				in, err := a.Store.GetInteraction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every ledger change, daily post and cycle result is appended to the event log.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				events, err := a.Store.LatestEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
				for _, e := range events {
					payload, _ := json.Marshal(e.Payload)
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, string(payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage versebot.yml"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default versebot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists (use --overwrite)", path)
			}
			out, err := config.GenerateDefault()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config (secrets omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every required setting is present",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(viper.GetBool("dry-run")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Status API tokens"}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	var subject string
	var perms []string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token signed with VB_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Secrets.JWTSecret == "" {
				return fmt.Errorf("%w: VB_JWT_SECRET is required to issue tokens", config.ErrConfiguration)
			}
			tok, err := server.IssueToken(cfg.Secrets.JWTSecret, subject, perms)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringArrayVar(&perms, "permission", []string{server.PermissionReopen}, "granted permission (repeatable)")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, nil
}

// withApp opens the app for a one-shot command. build wires the remote clients; without it only
// the store is opened.
func withApp(ctx context.Context, build bool, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.NewConsole(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	workspace := viper.GetString("workspace")
	var a *app.App
	if build {
		a, err = app.Build(ctx, cfg, app.Options{Workspace: workspace, DryRun: viper.GetBool("dry-run")}, log)
	} else {
		a, err = app.OpenReadOnly(ctx, cfg, workspace, log)
	}
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printCycle(res engine.CycleResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Source", "Fetched", "Selected", "Category", "Outcome", "Reply"})
	tw.AppendRow(table.Row{res.Source, res.Fetched, res.Selected, res.Category, res.Outcome, res.ReplyID})
	tw.Render()
	if res.ReplyText != "" {
		fmt.Println(res.ReplyText)
	}
	return nil
}

func printStats(rep engine.StatsReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"Total interactions", rep.TotalInteractions},
		{"Completed", rep.Completed},
		{"Replied", rep.Replied},
		{"Declined", rep.Declined},
		{"Failed", rep.Failed},
		{"Pending", rep.Pending},
		{"Today", rep.Today},
		{"Unique users", rep.UniqueUsers},
		{"Response rate", fmt.Sprintf("%.1f%%", rep.ResponseRate)},
		{"Quota used", fmt.Sprintf("%d/%d (%.1f%%)", rep.Quota.Made, rep.Quota.Limit, rep.Quota.PercentUsed)},
		{"Quota remaining", rep.Quota.Remaining},
	})
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
