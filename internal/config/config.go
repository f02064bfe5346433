package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"versebot/internal/triage"
)

// ErrConfiguration marks a missing or invalid setting. It is fatal at startup.
var ErrConfiguration = errors.New("configuration error")

const FileName = "versebot.yml"

// Config models versebot.yml. Secrets only come from the environment.
type Config struct {
	Bot struct {
		UserID   string `yaml:"user_id"`
		Username string `yaml:"username"`
		Timezone string `yaml:"timezone"`
	} `yaml:"bot"`
	Schedule struct {
		PostingTime           string `yaml:"posting_time"`
		MentionIntervalHours  int    `yaml:"mention_interval_hours"`
		SearchTime            string `yaml:"search_time"`
		SearchIntervalDays    int    `yaml:"search_interval_days"`
		CleanupTime           string `yaml:"cleanup_time"`
		CleanupDays           int    `yaml:"cleanup_days"`
		StatusIntervalMinutes int    `yaml:"status_interval_minutes"`
	} `yaml:"schedule"`
	Limits struct {
		MonthlyQuota        int `yaml:"monthly_quota"`
		MentionBatch        int `yaml:"mention_batch"`
		SearchBatch         int `yaml:"search_batch"`
		CooldownSeconds     int `yaml:"cooldown_seconds"`
		MaxResponsesPerHour int `yaml:"max_responses_per_hour"`
		PostCeiling         int `yaml:"post_ceiling"`
	} `yaml:"limits"`
	Search struct {
		Query string `yaml:"query"`
	} `yaml:"search"`
	Triage struct {
		BlockedTerms []string         `yaml:"blocked_terms"`
		Keywords     triage.Keywords  `yaml:"keywords"`
		Prefilter    triage.Prefilter `yaml:"prefilter"`
	} `yaml:"triage"`
	Content struct {
		Version string `yaml:"version"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"content"`
	LLM struct {
		// Provider is gemini, openai or empty for canned text only.
		Provider string   `yaml:"provider"`
		Models   []string `yaml:"models"`
		BaseURL  string   `yaml:"base_url"`
	} `yaml:"llm"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	LogLevel    string `yaml:"log_level"`

	Secrets Secrets `yaml:"-"`
}

type Secrets struct {
	XBearerToken string
	XUserToken   string
	GeminiAPIKey string
	OpenAIAPIKey string
	BibleAPIKey  string
	JWTSecret    string
}

// Default returns a Config with every value filled in.
func Default() *Config {
	var cfg Config
	cfg.Bot.Timezone = "America/New_York"
	cfg.Schedule.PostingTime = "08:00"
	cfg.Schedule.MentionIntervalHours = 6
	cfg.Schedule.SearchTime = "12:00"
	cfg.Schedule.SearchIntervalDays = 1
	cfg.Schedule.CleanupTime = "00:00"
	cfg.Schedule.CleanupDays = 30
	cfg.Schedule.StatusIntervalMinutes = 60
	cfg.Limits.MonthlyQuota = 100
	cfg.Limits.MentionBatch = 25
	cfg.Limits.SearchBatch = 10
	cfg.Limits.CooldownSeconds = 60
	cfg.Limits.MaxResponsesPerHour = 30
	cfg.Limits.PostCeiling = 280
	cfg.Search.Query = `("pray for me" OR "need prayer" OR "prayer request") -is:retweet lang:en`
	tc := triage.DefaultConfig()
	cfg.Triage.BlockedTerms = tc.BlockedTerms
	cfg.Triage.Keywords = tc.Keywords
	cfg.Triage.Prefilter = triage.DefaultPrefilter()
	cfg.Content.Version = "ESV"
	cfg.Server.Addr = ":8080"
	cfg.LogLevel = "info"
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load layers defaults, the optional YAML file and the environment (.env included). An empty
// path means versebot.yml in workspace.
func Load(workspace, path string) (*Config, error) {
	if workspace == "" {
		workspace = "."
	}
	_ = godotenv.Load(filepath.Join(workspace, ".env"))

	if path == "" {
		path = Path(workspace)
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// FromYAML parses raw YAML over the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// GenerateDefault renders the default config as YAML.
func GenerateDefault() (string, error) {
	out, err := yaml.Marshal(Default())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Config) applyEnv() {
	c.Bot.UserID = getenv("VB_BOT_USER_ID", c.Bot.UserID)
	c.Bot.Username = getenv("VB_BOT_USERNAME", c.Bot.Username)
	c.Bot.Timezone = getenv("VB_TIMEZONE", c.Bot.Timezone)
	c.Schedule.PostingTime = getenv("VB_POSTING_TIME", c.Schedule.PostingTime)
	c.Schedule.MentionIntervalHours = getenvInt("VB_MENTION_INTERVAL_HOURS", c.Schedule.MentionIntervalHours)
	c.Schedule.SearchIntervalDays = getenvInt("VB_SEARCH_INTERVAL_DAYS", c.Schedule.SearchIntervalDays)
	c.Limits.MonthlyQuota = getenvInt("VB_MONTHLY_QUOTA", c.Limits.MonthlyQuota)
	c.Search.Query = getenv("VB_SEARCH_QUERY", c.Search.Query)
	c.Content.Version = getenv("VB_BIBLE_VERSION", c.Content.Version)
	c.LLM.Provider = getenv("VB_LLM_PROVIDER", c.LLM.Provider)
	if models := getenv("VB_LLM_MODELS", ""); models != "" {
		c.LLM.Models = splitList(models)
	}
	c.Server.Addr = getenv("VB_ADDR", c.Server.Addr)
	c.DatabaseURL = getenv("VB_DATABASE_URL", getenv("DATABASE_URL", c.DatabaseURL))
	c.RedisURL = getenv("VB_REDIS_URL", c.RedisURL)
	c.LogLevel = getenv("VB_LOG_LEVEL", c.LogLevel)

	c.Secrets = Secrets{
		XBearerToken: getenv("VB_X_BEARER_TOKEN", ""),
		XUserToken:   getenv("VB_X_USER_TOKEN", ""),
		GeminiAPIKey: getenv("VB_GEMINI_API_KEY", getenv("GEMINI_API_KEY", "")),
		OpenAIAPIKey: getenv("VB_OPENAI_API_KEY", getenv("OPENAI_API_KEY", "")),
		BibleAPIKey:  getenv("VB_BIBLE_API_KEY", ""),
		JWTSecret:    getenv("VB_JWT_SECRET", ""),
	}
}

// Validate checks everything needed before scheduling starts. Publishing credentials are not
// required in dry-run mode.
func (c *Config) Validate(dryRun bool) error {
	var problems []string
	if c.Bot.UserID == "" {
		problems = append(problems, "bot.user_id (VB_BOT_USER_ID) is required")
	}
	if c.Secrets.XBearerToken == "" {
		problems = append(problems, "VB_X_BEARER_TOKEN is required")
	}
	if !dryRun && c.Secrets.XUserToken == "" {
		problems = append(problems, "VB_X_USER_TOKEN is required unless --dry-run")
	}
	if _, err := time.LoadLocation(c.Bot.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("bot.timezone: %v", err))
	}
	for name, v := range map[string]string{
		"schedule.posting_time": c.Schedule.PostingTime,
		"schedule.search_time":  c.Schedule.SearchTime,
		"schedule.cleanup_time": c.Schedule.CleanupTime,
	} {
		if _, _, err := ParseClock(v); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	for name, v := range map[string]int{
		"schedule.mention_interval_hours":  c.Schedule.MentionIntervalHours,
		"schedule.search_interval_days":    c.Schedule.SearchIntervalDays,
		"schedule.cleanup_days":            c.Schedule.CleanupDays,
		"schedule.status_interval_minutes": c.Schedule.StatusIntervalMinutes,
		"limits.monthly_quota":             c.Limits.MonthlyQuota,
		"limits.post_ceiling":              c.Limits.PostCeiling,
	} {
		if v <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "":
	case "gemini":
		if c.Secrets.GeminiAPIKey == "" {
			problems = append(problems, "VB_GEMINI_API_KEY is required for llm.provider gemini")
		}
	case "openai":
		if c.Secrets.OpenAIAPIKey == "" {
			problems = append(problems, "VB_OPENAI_API_KEY is required for llm.provider openai")
		}
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Bot.Timezone)
}

// TriageConfig builds the pipeline settings.
func (c *Config) TriageConfig() triage.Config {
	return triage.Config{
		BotUserID:           c.Bot.UserID,
		BlockedTerms:        c.Triage.BlockedTerms,
		Cooldown:            time.Duration(c.Limits.CooldownSeconds) * time.Second,
		MaxResponsesPerHour: c.Limits.MaxResponsesPerHour,
		Keywords:            c.Triage.Keywords,
	}
}

// ParseClock parses a 24-hour "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
