// Package compose turns a selected item or a verse into outbound text that fits the platform
// ceiling.
package compose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"versebot/internal/content"
	"versebot/internal/domain"
	"versebot/internal/llm"
)

const (
	DefaultCeiling = 280
	ellipsis       = "..."
	// minQuoteRunes is the shortest truncated quote worth posting.
	minQuoteRunes = 50
)

type Composer struct {
	// Gen may be nil; every operation then uses its canned fallback.
	Gen     llm.Generator
	Ceiling int
	Log     *zap.Logger
}

func New(gen llm.Generator, ceiling int, log *zap.Logger) Composer {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if log == nil {
		log = zap.NewNop()
	}
	return Composer{Gen: gen, Ceiling: ceiling, Log: log.Named("compose")}
}

// ComposeReply builds the reply for item. category is a mention intent or a mood label; verse
// is only used for mood replies. The decline value comes back verbatim.
func (c Composer) ComposeReply(ctx context.Context, item domain.InboundItem, category string, verse *content.Verse) string {
	ceiling := c.ceiling()
	req := llm.Request{System: SystemPrompt, Temperature: 0.7, MaxTokens: 100}
	intent := category
	if !IsIntent(category) {
		mood := content.ParseMood(category)
		if verse != nil {
			req.User = moodPrompt(item.Text, mood, *verse)
			req.Temperature, req.MaxTokens = 0.4, 120
		} else {
			intent = intentForMood(mood)
		}
	}
	if req.User == "" {
		orig := ""
		if item.Original != nil {
			orig = item.Original.Text
		}
		req.User = mentionPrompt(item.Text, intent, MentionContext(orig))
	}

	if c.Gen == nil {
		return c.canned(intent, category, verse)
	}
	out, err := c.Gen.Complete(ctx, req)
	if err != nil {
		c.log().Warn("compose.fallback", zap.String("item_id", item.ID), zap.String("category", category), zap.Error(err))
		return c.canned(intent, category, verse)
	}
	if isDecline(out) {
		c.log().Info("compose.declined", zap.String("item_id", item.ID))
		return domain.NoReply
	}
	text := unquote(out)
	if text == "" {
		c.log().Warn("compose.empty", zap.String("item_id", item.ID))
		return c.canned(intent, category, verse)
	}
	return Truncate(text, ceiling)
}

// ComposeReflection writes the follow-up reply to the daily verse post.
func (c Composer) ComposeReflection(ctx context.Context, v content.Verse) string {
	if c.Gen == nil {
		return ReflectionFallback
	}
	out, err := c.Gen.Complete(ctx, llm.Request{
		System:      SystemPrompt,
		User:        reflectionPrompt(v),
		Temperature: 0.7,
		MaxTokens:   200,
	})
	text := unquote(out)
	if err != nil || text == "" || isDecline(text) {
		c.log().Warn("compose.reflection_fallback", zap.String("reference", v.Reference), zap.Error(err))
		return ReflectionFallback
	}
	return Truncate(text, c.ceiling())
}

// ComposeScheduledPost formats a verse for the daily post. The first variant that fits wins:
//
//	"text"\n\nref (version)
//	"text"\n\nref
//	text - ref
//	ref (version)\n\ntruncated text...
//	ref (version), itself truncated if needed
func (c Composer) ComposeScheduledPost(v content.Verse) string {
	ceiling := c.ceiling()
	attribution := v.Reference
	if v.Version != "" {
		attribution = fmt.Sprintf("%s (%s)", v.Reference, v.Version)
	}
	for _, s := range []string{
		`"` + v.Text + `"` + "\n\n" + attribution,
		`"` + v.Text + `"` + "\n\n" + v.Reference,
		v.Text + " - " + v.Reference,
	} {
		if runeLen(s) <= ceiling {
			return s
		}
	}
	head := attribution + "\n\n"
	if room := ceiling - runeLen(head); room-len(ellipsis) >= minQuoteRunes {
		return head + Truncate(v.Text, room)
	}
	return Truncate(attribution, ceiling)
}

// Truncate shortens text to at most ceiling characters. It cuts after the last complete
// sentence that fits in ceiling-3, otherwise hard cuts at ceiling-3, and appends an ellipsis.
func Truncate(text string, ceiling int) string {
	r := []rune(text)
	if len(r) <= ceiling {
		return text
	}
	if ceiling <= len(ellipsis) {
		if ceiling < 0 {
			ceiling = 0
		}
		return ellipsis[:ceiling]
	}
	head := string(r[:ceiling-len(ellipsis)])
	if i := strings.LastIndex(head, ". "); i > 0 {
		if cut := strings.TrimRight(head[:i+1], ". "); cut != "" {
			return cut + ellipsis
		}
	}
	return head + ellipsis
}

func (c Composer) canned(intent, category string, verse *content.Verse) string {
	var text string
	switch {
	case !IsIntent(category) && verse != nil:
		text = fmt.Sprintf("🙏 \"%s\" - %s", verse.Text, verse.Reference)
		if verse.Version != "" {
			text += " (" + verse.Version + ")"
		}
	default:
		var ok bool
		if text, ok = cannedReplies[intent]; !ok {
			text = cannedReplies[IntentGeneral]
		}
	}
	return Truncate(text, c.ceiling())
}

func (c Composer) ceiling() int {
	if c.Ceiling <= 0 {
		return DefaultCeiling
	}
	return c.Ceiling
}

func (c Composer) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func isDecline(s string) bool {
	return strings.EqualFold(strings.Trim(strings.TrimSpace(s), `"'`), domain.NoReply)
}

func unquote(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}

func runeLen(s string) int { return len([]rune(s)) }
