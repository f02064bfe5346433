package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versebot/internal/clock"
	"versebot/internal/config"
	"versebot/internal/feed"
	"versebot/internal/llm"
	"versebot/internal/repo"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Bot.UserID = "bot"
	cfg.Bot.Timezone = "UTC"
	cfg.Secrets.XBearerToken = "app-token"
	return cfg
}

func TestBuildRefusesInvalidConfig(t *testing.T) {
	cfg := testConfig()
	_, err := Build(context.Background(), cfg, Options{Workspace: t.TempDir()}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfiguration))
}

func TestBuildDryRunWiring(t *testing.T) {
	cfg := testConfig()
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC))
	a, err := Build(context.Background(), cfg, Options{Workspace: t.TempDir(), DryRun: true, Clock: clk}, nil)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Store.(repo.Repo)
	assert.True(t, ok, "sqlite store expected without a database url")
	_, ok = a.Engine.Feed.(feed.DryRun)
	assert.True(t, ok, "dry run should wrap the feed client")
	assert.Nil(t, a.Engine.Triage.Classifier)
	assert.Nil(t, a.Engine.Composer.Gen)
	assert.Equal(t, clk.Now(), a.Engine.Now())

	id, err := a.Engine.Feed.PublishPost(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, feed.IsSynthetic(id))
}

func TestSchedulerRegistersEveryJob(t *testing.T) {
	cfg := testConfig()
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC))
	a, err := Build(context.Background(), cfg, Options{Workspace: t.TempDir(), DryRun: true, Clock: clk}, nil)
	require.NoError(t, err)
	defer a.Close()

	s, err := a.Scheduler()
	require.NoError(t, err)
	runs := NextRuns(s)
	got := map[string]time.Time{}
	for _, r := range runs {
		got[r.Job] = r.Next
	}
	assert.Len(t, got, 5)
	assert.Equal(t, clk.Now(), got[JobMentions], "mentions run once at startup")
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), got[JobDailyPost])
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), got[JobSearch])
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), got[JobCleanup])
	assert.Equal(t, clk.Now().Add(time.Hour), got[JobStatus])
}

func TestNewGenerator(t *testing.T) {
	cfg := testConfig()
	gen, err := NewGenerator(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, gen)

	cfg.LLM.Provider = "openai"
	cfg.LLM.Models = []string{"gpt-4.1-mini"}
	cfg.Secrets.OpenAIAPIKey = "k"
	gen, err = NewGenerator(context.Background(), cfg, nil)
	require.NoError(t, err)
	oa, ok := gen.(*llm.OpenAI)
	require.True(t, ok)
	assert.Equal(t, "gpt-4.1-mini", oa.Model)

	cfg.LLM.Provider = "claude"
	_, err = NewGenerator(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
