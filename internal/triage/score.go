package triage

import (
	"sort"
	"strings"

	"versebot/internal/domain"
)

// Keywords weights the deterministic ranking.
type Keywords struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`
}

func DefaultKeywords() Keywords {
	return Keywords{
		High:   []string{"pray for me", "need prayer", "prayer request", "struggling", "depressed", "anxious", "lost", "broken", "hopeless"},
		Medium: []string{"pray", "prayer", "god", "help", "difficult", "hurt"},
		Low:    []string{"feeling", "why", "how", "confused", "scared"},
	}
}

// Score is +5 per high hit, +3 per medium hit, +1 per low hit and +2 for a question mark.
func Score(text string, kw Keywords) int {
	lower := strings.ToLower(text)
	score := 5*countHits(lower, kw.High) + 3*countHits(lower, kw.Medium) + countHits(lower, kw.Low)
	if strings.Contains(text, "?") {
		score += 2
	}
	return score
}

// Prefilter narrows raw search hits before triage.
type Prefilter struct {
	Avoid     []string `yaml:"avoid"`
	Spiritual []string `yaml:"spiritual"`
	Emotional []string `yaml:"emotional"`
	Limit     int      `yaml:"limit"`
}

func DefaultPrefilter() Prefilter {
	return Prefilter{
		Avoid: []string{
			"politics", "political", "democrat", "republican", "vote", "election",
			"crypto", "bitcoin", "nft", "trading", "investment", "promotion",
			"follow me", "check out", "link in bio", "spam", "scam",
			"hate", "angry", "stupid", "idiot", "dumb",
		},
		Spiritual: []string{"pray", "prayer", "prayers", "praying", "god", "lord", "jesus", "faith", "bible", "church", "christian", "blessed", "blessing"},
		Emotional: []string{"feeling", "feel", "need", "help", "why", "how"},
		Limit:     5,
	}
}

// FilterCandidates drops reposts, avoid-list topics and posts with neither a spiritual nor an
// emotional marker, then keeps the best Limit by score. Input order breaks ties.
func FilterCandidates(items []domain.InboundItem, pf Prefilter, kw Keywords) []domain.InboundItem {
	type scored struct {
		item  domain.InboundItem
		score int
	}
	var kept []scored
	for _, it := range items {
		if strings.HasPrefix(it.Text, "RT @") {
			continue
		}
		lower := strings.ToLower(it.Text)
		if containsAny(lower, pf.Avoid) {
			continue
		}
		if !containsAny(lower, pf.Spiritual) && !containsAny(lower, pf.Emotional) {
			continue
		}
		kept = append(kept, scored{item: it, score: Score(it.Text, kw)})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	limit := pf.Limit
	if limit <= 0 {
		limit = 5
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]domain.InboundItem, len(kept))
	for i, s := range kept {
		out[i] = s.item
	}
	return out
}

func countHits(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			n++
		}
	}
	return n
}

func containsAny(lower string, terms []string) bool {
	return countHits(lower, terms) > 0
}
