package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"versebot/internal/remote"
)

// DefaultGeminiModels are tried in order; a model that is rate limited or missing falls
// through to the next one.
var DefaultGeminiModels = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}

type Gemini struct {
	Client *genai.Client
	Models []string
	Log    *zap.Logger
}

func NewGemini(ctx context.Context, apiKey string, models []string, log *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		models = DefaultGeminiModels
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gemini{Client: client, Models: models, Log: log.Named("gemini")}, nil
}

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	var lastErr error
	for _, model := range g.Models {
		start := time.Now()
		result, err := g.Client.Models.GenerateContent(ctx, model, genai.Text(req.User), cfg)
		if err != nil {
			if modelUnavailable(err) {
				g.Log.Warn("gemini.model_unavailable", zap.String("model", model), zap.Error(err))
				lastErr = err
				continue
			}
			return "", remote.Wrap("gemini.generate", err)
		}
		text := firstText(result)
		g.Log.Debug("gemini.complete",
			zap.String("model", model),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("response_len", len(text)))
		if text == "" {
			return "", ErrEmpty
		}
		return text, nil
	}
	return "", &remote.Error{Op: "gemini.generate", Kind: remote.KindNoData, Err: fmt.Errorf("all models failed: %w", lastErr)}
}

func firstText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	c := result.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func modelUnavailable(err error) bool {
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "404", "not found"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
