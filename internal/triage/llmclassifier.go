package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"versebot/internal/content"
	"versebot/internal/domain"
	"versebot/internal/llm"
)

// LLMClassifier selects and labels items with a text generator.
type LLMClassifier struct {
	Gen    llm.Generator
	System string
}

const selectInstructions = `Pick the ONE post that would most benefit from a loving, spiritual reply.

AVOID:
- Political content, drama, arguments
- Commercial or promotional content, spam
- Hateful, aggressive language
- Reposts (starting with "RT @")
- Trolling, sarcasm, inauthentic content
- Controversial wars and controversial public figures

PRIORITIZE:
- Genuine prayer requests or spiritual seeking
- Emotional struggles (depression, anxiety, grief)
- Life difficulties (illness, loss, problems)
- Questions about faith or meaning
- Authentic vulnerability or calls for help

Answer with JSON only:
{"selected_tweet_id": "<id>", "reasoning": "<why>"}
If no post is suitable:
{"selected_tweet_id": null, "reasoning": "<why>"}`

func (c LLMClassifier) Choose(ctx context.Context, items []domain.InboundItem) (Choice, error) {
	var b strings.Builder
	b.WriteString("POSTS TO ANALYZE:\n")
	for i, it := range items {
		fmt.Fprintf(&b, "%d. ID: %s\n   Text: %q\n   Author: %s\n", i+1, it.ID, it.Text, it.AuthorID)
		if it.Original != nil && it.Original.Text != "" {
			fmt.Fprintf(&b, "   Replying to: %q\n", it.Original.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString(selectInstructions)

	out, err := c.Gen.Complete(ctx, llm.Request{
		System:      c.System,
		User:        b.String(),
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		return Choice{}, err
	}
	return ParseChoice(out)
}

// ParseChoice decodes a selection answer. Only an explicit null selected_tweet_id means "none
// suitable"; a missing key or a non-object answer is ErrMalformed.
func ParseChoice(raw string) (Choice, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &fields); err != nil {
		return Choice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Choice{}, fmt.Errorf("%w: answer is not an object", ErrMalformed)
	}
	selected, ok := fields["selected_tweet_id"]
	if !ok {
		return Choice{}, fmt.Errorf("%w: missing selected_tweet_id", ErrMalformed)
	}
	var reasoning string
	if r, ok := fields["reasoning"]; ok {
		_ = json.Unmarshal(r, &reasoning)
	}
	if strings.TrimSpace(string(selected)) == "null" {
		return Choice{None: true, Reasoning: reasoning}, nil
	}
	var id string
	if err := json.Unmarshal(selected, &id); err != nil {
		var n json.Number
		if err2 := json.Unmarshal(selected, &n); err2 != nil {
			return Choice{}, fmt.Errorf("%w: selected_tweet_id: %v", ErrMalformed, err)
		}
		id = n.String()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Choice{}, fmt.Errorf("%w: empty selected_tweet_id", ErrMalformed)
	}
	return Choice{ItemID: id, Reasoning: reasoning}, nil
}

func (c LLMClassifier) DetectMood(ctx context.Context, text string) (string, error) {
	labels := make([]string, 0, len(content.Moods()))
	for _, m := range content.Moods() {
		labels = append(labels, m.String())
	}
	prompt := fmt.Sprintf(`Determine the emotional state of the author of this post.

POST: %q

AVAILABLE MOODS:
%s

Choose the ONE mood that fits best. Answer with JSON only:
{"detected_mood": "<mood from the list>", "confidence": "high|medium|low", "explanation": "<brief>"}
If no clear mood stands out, use "%s".`, text, strings.Join(labels, ", "), content.DefaultMood)

	out, err := c.Gen.Complete(ctx, llm.Request{
		System:      c.System,
		User:        prompt,
		Temperature: 0.1,
		MaxTokens:   150,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		DetectedMood string `json:"detected_mood"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(out)), &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return resp.DetectedMood, nil
}
