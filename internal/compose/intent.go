package compose

import (
	"strings"

	"versebot/internal/content"
)

// Intents assigned to mentions.
const (
	IntentPrayerRequest = "prayer_request"
	IntentVerseRequest  = "verse_request"
	IntentComfortNeeded = "comfort_needed"
	IntentGratitude     = "gratitude"
	IntentQuestion      = "question"
	IntentGeneral       = "general"
)

var intentKeywords = []struct {
	intent string
	terms  []string
}{
	{IntentPrayerRequest, []string{"pray", "prayer", "prayers", "praying", "please pray", "need prayer"}},
	{IntentVerseRequest, []string{"verse", "bible", "scripture", "word", "passage"}},
	{IntentComfortNeeded, []string{"struggling", "difficult", "hard time", "depressed", "anxious", "worried", "scared", "hurt", "pain", "lost", "confused"}},
	{IntentGratitude, []string{"thank", "grateful", "blessed", "praise", "amazing", "wonderful", "glory"}},
}

var questionWords = []string{"what", "how", "why", "when", "where", "who"}

// AnalyzeIntent classifies a mention by keyword. The first matching group wins.
func AnalyzeIntent(text string) string {
	lower := strings.ToLower(text)
	for _, g := range intentKeywords {
		for _, term := range g.terms {
			if strings.Contains(lower, term) {
				return g.intent
			}
		}
	}
	if strings.Contains(text, "?") {
		return IntentQuestion
	}
	body := stripMentions(lower)
	for _, w := range questionWords {
		if strings.HasPrefix(body, w) {
			return IntentQuestion
		}
	}
	return IntentGeneral
}

// IsIntent reports whether category is one of the mention intents.
func IsIntent(category string) bool {
	_, ok := cannedReplies[category]
	return ok
}

// intentForMood picks the canned reply used when a mood-labelled reply cannot be generated
// and no verse is at hand.
func intentForMood(m content.Mood) string {
	switch m {
	case content.MoodGrateful:
		return IntentGratitude
	case content.MoodConfused:
		return IntentQuestion
	default:
		return IntentComfortNeeded
	}
}

func stripMentions(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "@") {
		i := strings.IndexAny(s, " \t\n")
		if i < 0 {
			return ""
		}
		s = strings.TrimSpace(s[i:])
	}
	return s
}
