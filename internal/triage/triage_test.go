package triage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"versebot/internal/content"
	"versebot/internal/domain"
	"versebot/internal/llm"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeHistory struct {
	handled   map[string]bool
	last      map[string]time.Time
	completed int
}

func (h *fakeHistory) HasHandled(_ context.Context, id string) bool { return h.handled[id] }

func (h *fakeHistory) LastInteraction(_ context.Context, author string) (time.Time, bool) {
	t, ok := h.last[author]
	return t, ok
}

func (h *fakeHistory) CompletedSince(context.Context, time.Time) int { return h.completed }

type fakeClassifier struct {
	choice  Choice
	err     error
	mood    string
	moodErr error
	calls   int
}

func (f *fakeClassifier) Choose(context.Context, []domain.InboundItem) (Choice, error) {
	f.calls++
	return f.choice, f.err
}

func (f *fakeClassifier) DetectMood(context.Context, string) (string, error) {
	return f.mood, f.moodErr
}

func newPipeline(h History, c Classifier) Pipeline {
	cfg := DefaultConfig()
	cfg.BotUserID = "BOT"
	p := Pipeline{History: h, Config: cfg, Now: func() time.Time { return testNow }}
	if c != nil {
		p.Classifier = c
	}
	return p
}

func item(id, author, text string, age time.Duration) domain.InboundItem {
	return domain.InboundItem{ID: id, AuthorID: author, Text: text, CreatedAt: testNow.Add(-age)}
}

func TestSelectSkipsHandledItem(t *testing.T) {
	h := &fakeHistory{handled: map[string]bool{"T1": true}}
	p := newPipeline(h, nil)
	if _, ok := p.Select(context.Background(), []domain.InboundItem{item("T1", "A1", "please pray for me", time.Minute)}, false); ok {
		t.Fatalf("expected no selection for handled item")
	}
}

func TestSelectExcludesAuthorInCooldown(t *testing.T) {
	h := &fakeHistory{last: map[string]time.Time{"A1": testNow.Add(-10 * time.Second)}}
	p := newPipeline(h, nil)
	items := []domain.InboundItem{
		item("1", "A1", "pray for me, I am hopeless and broken and lost?", time.Minute),
		item("2", "A2", "thinking about god", time.Minute),
	}
	sel, ok := p.Select(context.Background(), items, false)
	if !ok {
		t.Fatalf("expected a selection")
	}
	if sel.Item.ID != "2" {
		t.Fatalf("expected item from author outside cooldown, got %s", sel.Item.ID)
	}

	h.last["A1"] = testNow.Add(-61 * time.Second)
	sel, _ = p.Select(context.Background(), items, false)
	if sel.Item.ID != "1" {
		t.Fatalf("expected cooldown to lapse, got %s", sel.Item.ID)
	}
}

func TestSelectHonorsHourlyCap(t *testing.T) {
	h := &fakeHistory{completed: 30}
	c := &fakeClassifier{choice: Choice{ItemID: "1"}}
	p := newPipeline(h, c)
	items := []domain.InboundItem{item("1", "A1", "need prayer, struggling and depressed?", time.Minute)}
	if _, ok := p.Select(context.Background(), items, true); ok {
		t.Fatalf("expected hourly cap to block selection")
	}
	if c.calls != 0 {
		t.Fatalf("classifier should not be consulted once the cap is hit")
	}
	h.completed = 29
	if _, ok := p.Select(context.Background(), items, false); !ok {
		t.Fatalf("expected selection below the cap")
	}
}

func TestSelectExcludesSelfAndBlockedTerms(t *testing.T) {
	p := newPipeline(&fakeHistory{}, nil)
	items := []domain.InboundItem{
		item("1", "BOT", "pray for me", time.Minute),
		item("2", "A2", "Pray for me, this is not a SCAM", time.Minute),
	}
	if sel, ok := p.Select(context.Background(), items, false); ok {
		t.Fatalf("expected no selection, got %s", sel.Item.ID)
	}
}

func TestSelectRanksByScoreThenAge(t *testing.T) {
	p := newPipeline(&fakeHistory{}, nil)
	items := []domain.InboundItem{
		item("low", "A1", "feeling fine", 3*time.Minute),
		item("newer", "A2", "please pray for me", time.Minute),
		item("older", "A3", "please pray for me", 2*time.Minute),
	}
	sel, ok := p.Select(context.Background(), items, false)
	if !ok || sel.Item.ID != "older" {
		t.Fatalf("expected earliest of the tied top scores, got %+v", sel)
	}
	if sel.Reason != ReasonScore {
		t.Fatalf("expected keyword score reason, got %s", sel.Reason)
	}
	if sel.Category != "" {
		t.Fatalf("expected no category without mood, got %q", sel.Category)
	}
}

func TestClassifierChoiceSupersedesRanking(t *testing.T) {
	c := &fakeClassifier{choice: Choice{ItemID: "b"}, mood: "anxious"}
	p := newPipeline(&fakeHistory{}, c)
	items := []domain.InboundItem{
		item("a", "A1", "pray for me, hopeless and broken", time.Minute),
		item("b", "A2", "why does god feel far away?", time.Minute),
	}
	sel, ok := p.Select(context.Background(), items, true)
	if !ok || sel.Item.ID != "b" || sel.Reason != ReasonClassifier {
		t.Fatalf("expected classifier pick, got %+v", sel)
	}
	if sel.Category != "anxious" {
		t.Fatalf("expected anxious, got %q", sel.Category)
	}
}

func TestClassifierNoneMeansNoSelection(t *testing.T) {
	c := &fakeClassifier{choice: Choice{None: true, Reasoning: "all political"}}
	p := newPipeline(&fakeHistory{}, c)
	if _, ok := p.Select(context.Background(), []domain.InboundItem{item("a", "A1", "pray for me", 0)}, false); ok {
		t.Fatalf("explicit none must suppress the fallback ranking")
	}
}

func TestClassifierFailureFallsBackToScore(t *testing.T) {
	cases := map[string]*fakeClassifier{
		"error":      {err: errors.New("timeout")},
		"malformed":  {err: ErrMalformed},
		"unknown id": {choice: Choice{ItemID: "zzz"}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			p := newPipeline(&fakeHistory{}, c)
			items := []domain.InboundItem{
				item("a", "A1", "nice day", time.Minute),
				item("b", "A2", "need prayer", time.Minute),
			}
			sel, ok := p.Select(context.Background(), items, false)
			if !ok || sel.Item.ID != "b" || sel.Reason != ReasonScore {
				t.Fatalf("expected score fallback to b, got %+v", sel)
			}
		})
	}
}

func TestOffSchemaAnswerFallsBackToScore(t *testing.T) {
	for _, answer := range []string{`{}`, `null`, `{"answer": "a"}`, `{"reasoning": "pick a"}`} {
		t.Run(answer, func(t *testing.T) {
			gen := llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
				return answer, nil
			})
			p := newPipeline(&fakeHistory{}, LLMClassifier{Gen: gen})
			items := []domain.InboundItem{
				item("a", "A1", "nice day", time.Minute),
				item("b", "A2", "please pray for me, I feel hopeless", time.Minute),
			}
			sel, ok := p.Select(context.Background(), items, false)
			if !ok || sel.Item.ID != "b" || sel.Reason != ReasonScore {
				t.Fatalf("expected score fallback to b, got ok=%v %+v", ok, sel)
			}
		})
	}
}

func TestCategorizeCoercesUnknownLabels(t *testing.T) {
	for _, label := range []string{"melancholy", "", "SAD!!", "happy", "NO_REPLY"} {
		p := newPipeline(&fakeHistory{}, &fakeClassifier{mood: label})
		got := p.Categorize(context.Background(), item("a", "A1", "x", 0))
		if got != content.DefaultMood {
			t.Fatalf("label %q: expected default mood, got %q", label, got)
		}
	}
	p := newPipeline(&fakeHistory{}, &fakeClassifier{moodErr: errors.New("down")})
	if got := p.Categorize(context.Background(), item("a", "A1", "x", 0)); got != content.DefaultMood {
		t.Fatalf("expected default mood on error, got %q", got)
	}
	p = newPipeline(&fakeHistory{}, &fakeClassifier{mood: " Lonely "})
	if got := p.Categorize(context.Background(), item("a", "A1", "x", 0)); got != content.MoodLonely {
		t.Fatalf("expected lonely, got %q", got)
	}
}

func TestScore(t *testing.T) {
	kw := DefaultKeywords()
	cases := []struct {
		text string
		want int
	}{
		{"hello", 0},
		{"Why?", 1 + 2},
		{"please PRAY FOR ME", 5 + 3},
		{"I need prayer and help", 5 + 3 + 3 + 3},
	}
	for _, tc := range cases {
		if got := Score(tc.text, kw); got != tc.want {
			t.Fatalf("Score(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestFilterCandidates(t *testing.T) {
	pf := DefaultPrefilter()
	pf.Limit = 2
	items := []domain.InboundItem{
		item("rt", "A", "RT @someone: pray for me", 0),
		item("pol", "A", "pray for the election", 0),
		item("plain", "A", "nice weather today", 0),
		item("mild", "A", "feeling ok", 0),
		item("strong", "A", "need prayer, I feel hopeless", 0),
		item("mid", "A", "pray with me", 0),
	}
	got := FilterCandidates(items, pf, DefaultKeywords())
	if len(got) != 2 || got[0].ID != "strong" || got[1].ID != "mid" {
		ids := make([]string, len(got))
		for i, g := range got {
			ids[i] = g.ID
		}
		t.Fatalf("unexpected candidates: %s", strings.Join(ids, ","))
	}
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice("```json\n{\"selected_tweet_id\": \"42\", \"reasoning\": \"prayer request\"}\n```")
	if err != nil || c.ItemID != "42" || c.None {
		t.Fatalf("unexpected %+v %v", c, err)
	}
	c, err = ParseChoice(`{"selected_tweet_id": null, "reasoning": "spam"}`)
	if err != nil || !c.None {
		t.Fatalf("expected none, got %+v %v", c, err)
	}
	c, err = ParseChoice(`{"selected_tweet_id": 17}`)
	if err != nil || c.ItemID != "17" {
		t.Fatalf("expected numeric id, got %+v %v", c, err)
	}
	for _, raw := range []string{
		"I pick tweet 3",
		`{"selected_tweet_id": ""}`,
		`{"selected_tweet_id": ["x"]}`,
		`{}`,
		`null`,
		`[]`,
		`{"answer": "a"}`,
		`{"reasoning": "pick a"}`,
	} {
		if _, err := ParseChoice(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestLLMClassifierPrompts(t *testing.T) {
	var reqs []llm.Request
	gen := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		reqs = append(reqs, req)
		if strings.Contains(req.User, "AVAILABLE MOODS") {
			return `{"detected_mood": "stressed", "confidence": "high"}`, nil
		}
		return `{"selected_tweet_id": "2", "reasoning": "asks for prayer"}`, nil
	})
	c := LLMClassifier{Gen: gen}
	choice, err := c.Choose(context.Background(), []domain.InboundItem{
		item("1", "A1", "lunch", 0),
		{ID: "2", AuthorID: "A2", Text: "pray for my mom", Original: &domain.InboundItem{Text: "she is in hospital"}},
	})
	if err != nil || choice.ItemID != "2" {
		t.Fatalf("unexpected %+v %v", choice, err)
	}
	if !strings.Contains(reqs[0].User, "she is in hospital") || reqs[0].Temperature != 0.2 {
		t.Fatalf("selection prompt missing context: %+v", reqs[0])
	}
	mood, err := c.DetectMood(context.Background(), "so much to do")
	if err != nil || mood != "stressed" {
		t.Fatalf("unexpected mood %q %v", mood, err)
	}
	if reqs[1].MaxTokens != 150 {
		t.Fatalf("unexpected mood request %+v", reqs[1])
	}
}
