// Package triage narrows a batch of inbound items down to at most one worth answering.
package triage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"versebot/internal/content"
	"versebot/internal/domain"
	"versebot/internal/metrics"
)

// ErrMalformed marks a classifier answer that does not fit the expected schema.
var ErrMalformed = errors.New("triage: malformed classifier response")

// History is the read side of the delivery ledger.
type History interface {
	HasHandled(ctx context.Context, itemID string) bool
	LastInteraction(ctx context.Context, authorID string) (time.Time, bool)
	CompletedSince(ctx context.Context, since time.Time) int
}

// Choice is a classifier pick. None means the classifier judged every candidate unsuitable.
type Choice struct {
	ItemID    string
	None      bool
	Reasoning string
}

// Classifier is the optional higher-fidelity selector.
type Classifier interface {
	Choose(ctx context.Context, items []domain.InboundItem) (Choice, error)
	DetectMood(ctx context.Context, text string) (string, error)
}

type Config struct {
	BotUserID           string
	BlockedTerms        []string
	Cooldown            time.Duration
	MaxResponsesPerHour int
	Keywords            Keywords
}

func DefaultConfig() Config {
	return Config{
		BlockedTerms:        []string{"spam", "bot", "fake", "scam"},
		Cooldown:            60 * time.Second,
		MaxResponsesPerHour: 30,
		Keywords:            DefaultKeywords(),
	}
}

// Selection reasons.
const (
	ReasonClassifier = "classifier"
	ReasonScore      = "keyword_score"
)

type Selection struct {
	Item     domain.InboundItem
	Category string
	Score    int
	Reason   string
}

type Pipeline struct {
	History    History
	Classifier Classifier
	Config     Config
	Now        func() time.Time
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

type candidate struct {
	item  domain.InboundItem
	score int
}

// Select runs exclusion, ranking and selection over items. When withMood is set the selected
// item's category is a mood label from the closed set.
func (p Pipeline) Select(ctx context.Context, items []domain.InboundItem, withMood bool) (Selection, bool) {
	log := p.log()
	now := p.now()

	if limit := p.Config.MaxResponsesPerHour; limit > 0 {
		if n := p.History.CompletedSince(ctx, now.Add(-time.Hour)); n >= limit {
			log.Info("triage.hourly_cap", zap.Int("completed_last_hour", n), zap.Int("max", limit))
			p.Metrics.Excluded("hourly_cap", len(items))
			return Selection{}, false
		}
	}

	var cands []candidate
	for _, it := range items {
		if reason := p.exclude(ctx, it, now); reason != "" {
			log.Debug("triage.excluded", zap.String("item_id", it.ID), zap.String("reason", reason))
			p.Metrics.Excluded(reason, 1)
			continue
		}
		cands = append(cands, candidate{item: it, score: Score(it.Text, p.Config.Keywords)})
	}
	if len(cands) == 0 {
		log.Info("triage.no_candidates", zap.Int("batch", len(items)))
		return Selection{}, false
	}
	rank(cands)

	sel, ok := p.choose(ctx, cands)
	if !ok {
		return Selection{}, false
	}
	if withMood {
		sel.Category = p.Categorize(ctx, sel.Item).String()
	}
	log.Info("triage.selected",
		zap.String("item_id", sel.Item.ID),
		zap.String("author_id", sel.Item.AuthorID),
		zap.Int("score", sel.Score),
		zap.String("reason", sel.Reason),
		zap.String("category", sel.Category),
		zap.Int("candidates", len(cands)))
	return sel, true
}

func (p Pipeline) exclude(ctx context.Context, it domain.InboundItem, now time.Time) string {
	if p.Config.BotUserID != "" && it.AuthorID == p.Config.BotUserID {
		return "self"
	}
	if p.History.HasHandled(ctx, it.ID) {
		return "handled"
	}
	if containsAny(strings.ToLower(it.Text), p.Config.BlockedTerms) {
		return "blocked_term"
	}
	if p.Config.Cooldown > 0 {
		if last, ok := p.History.LastInteraction(ctx, it.AuthorID); ok && now.Sub(last) < p.Config.Cooldown {
			return "cooldown"
		}
	}
	return ""
}

// choose asks the classifier first and falls back to the top score on any error.
func (p Pipeline) choose(ctx context.Context, cands []candidate) (Selection, bool) {
	top := Selection{Item: cands[0].item, Score: cands[0].score, Reason: ReasonScore}
	if p.Classifier == nil {
		return top, true
	}
	items := make([]domain.InboundItem, len(cands))
	for i, c := range cands {
		items[i] = c.item
	}
	choice, err := p.Classifier.Choose(ctx, items)
	if err == nil && !choice.None {
		for _, c := range cands {
			if c.item.ID == choice.ItemID {
				return Selection{Item: c.item, Score: c.score, Reason: ReasonClassifier}, true
			}
		}
		err = ErrMalformed
	}
	if err != nil {
		p.log().Warn("triage.classifier_fallback", zap.Error(err), zap.String("item_id", top.Item.ID))
		return top, true
	}
	p.log().Info("triage.classifier_declined", zap.String("reasoning", choice.Reasoning))
	return Selection{}, false
}

// Categorize maps item onto a mood. Without a classifier, or when it fails, the default mood
// is used.
func (p Pipeline) Categorize(ctx context.Context, item domain.InboundItem) content.Mood {
	if p.Classifier == nil {
		return content.DefaultMood
	}
	label, err := p.Classifier.DetectMood(ctx, item.Text)
	if err != nil {
		p.log().Warn("triage.mood_fallback", zap.String("item_id", item.ID), zap.Error(err))
		return content.DefaultMood
	}
	mood := content.ParseMood(label)
	if string(mood) != strings.ToLower(strings.TrimSpace(label)) {
		p.log().Info("triage.mood_coerced", zap.String("label", label), zap.String("mood", mood.String()))
	}
	return mood
}

// rank orders by score, then earliest creation, then id.
func rank(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.Before(b.item.CreatedAt)
		}
		return a.item.ID < b.item.ID
	})
}

func (p Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Pipeline) log() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
