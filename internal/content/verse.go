// Package content looks up quotable verses by mood, with a static table that needs no
// remote calls.
package content

import (
	"context"
	"math/rand"
)

type Verse struct {
	Text      string `json:"text"`
	Reference string `json:"reference"`
	Version   string `json:"version"`
}

// Source resolves verses. Implementations may call out to a remote API.
type Source interface {
	LookupByTag(ctx context.Context, mood Mood) (Verse, error)
	LookupRandom(ctx context.Context) (Verse, error)
}

var fallbackVerses = []Verse{
	{
		Reference: "John 3:16",
		Text:      "For God so loved the world that he gave his one and only Son, that whoever believes in him shall not perish but have eternal life.",
		Version:   "NIV",
	},
	{
		Reference: "Philippians 4:13",
		Text:      "I can do all this through him who gives me strength.",
		Version:   "NIV",
	},
	{
		Reference: "Jeremiah 29:11",
		Text:      `For I know the plans I have for you," declares the Lord, "plans to prosper you and not to harm you, to give you hope and a future.`,
		Version:   "NIV",
	},
	{
		Reference: "Romans 8:28",
		Text:      "And we know that in all things God works for the good of those who love him, who have been called according to his purpose.",
		Version:   "NIV",
	},
	{
		Reference: "Psalm 23:1",
		Text:      "The Lord is my shepherd, I lack nothing.",
		Version:   "NIV",
	},
}

// FallbackVerses returns the static table.
func FallbackVerses() []Verse {
	out := make([]Verse, len(fallbackVerses))
	copy(out, fallbackVerses)
	return out
}

// Static serves verses from the fallback table.
type Static struct {
	// Intn picks an index; nil uses math/rand.
	Intn func(n int) int
}

func (s Static) LookupByTag(_ context.Context, _ Mood) (Verse, error) {
	return s.pick(), nil
}

func (s Static) LookupRandom(_ context.Context) (Verse, error) {
	return s.pick(), nil
}

func (s Static) pick() Verse {
	return fallbackVerses[intn(s.Intn, len(fallbackVerses))]
}

func intn(f func(int) int, n int) int {
	if f == nil {
		return rand.Intn(n)
	}
	i := f(n)
	if i < 0 || i >= n {
		return 0
	}
	return i
}
