package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versebot/internal/remote"
)

func TestParseMoodCoercesUnknownLabels(t *testing.T) {
	cases := map[string]Mood{
		"sad":          MoodSad,
		"  Anxious ":   MoodAnxious,
		"GRATEFUL":     MoodGrateful,
		"":             DefaultMood,
		"melancholic":  DefaultMood,
		"NO_REPLY":     DefaultMood,
		"sad; anxious": DefaultMood,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseMood(in), "input %q", in)
	}
}

func TestEveryMoodHasReferences(t *testing.T) {
	for _, m := range Moods() {
		require.True(t, m.Valid(), m)
		require.NotEmpty(t, References(m), m)
	}
	assert.Equal(t, References(DefaultMood), References(Mood("unknown")))
}

func TestCleanText(t *testing.T) {
	in := "<p class=\"p\"><span data-number=\"18\" class=\"v\">18</span>The Lord is close\n\n  to the brokenhearted</p>"
	assert.Equal(t, "18The Lord is close to the brokenhearted", CleanText(in))
}

func TestBibleAPILookupReference(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		_, _ = w.Write([]byte(`{"data":{"reference":"Psalm 34:18","content":"<p>The Lord is close to the brokenhearted.</p>"}}`))
	}))
	defer srv.Close()

	api := NewBibleAPI("secret", "niv", nil)
	api.BaseURL = srv.URL
	v, err := api.LookupReference(context.Background(), "PSA.34.18")
	require.NoError(t, err)
	assert.Equal(t, "/bibles/71c6eab17ae5b667-01/verses/PSA.34.18", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, Verse{Text: "The Lord is close to the brokenhearted.", Reference: "Psalm 34:18", Version: "NIV"}, v)
}

func TestBibleAPILookupByTagUsesMoodList(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":{"reference":"x","content":"y"}}`))
	}))
	defer srv.Close()

	api := NewBibleAPI("k", "", nil)
	api.BaseURL = srv.URL
	api.Intn = func(int) int { return 1 }
	_, err := api.LookupByTag(context.Background(), MoodGuilty)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(gotPath, "/verses/PSA.51.1"), gotPath)
	assert.Contains(t, gotPath, BibleIDs["ESV"])
}

func TestBibleAPIClassifiesErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", status)
	}))
	defer srv.Close()

	api := NewBibleAPI("k", "ESV", nil)
	api.BaseURL = srv.URL
	_, err := api.LookupReference(context.Background(), "JHN.3.16")
	require.Error(t, err)
	assert.True(t, remote.IsNoData(err))

	status = http.StatusBadGateway
	_, err = api.LookupReference(context.Background(), "JHN.3.16")
	assert.True(t, remote.IsTransient(err))

	status = http.StatusUnauthorized
	_, err = api.LookupReference(context.Background(), "JHN.3.16")
	assert.True(t, remote.IsPermanent(err))
}

type failingSource struct{ calls int }

func (f *failingSource) LookupByTag(context.Context, Mood) (Verse, error) {
	f.calls++
	return Verse{}, errors.New("down")
}

func (f *failingSource) LookupRandom(context.Context) (Verse, error) {
	f.calls++
	return Verse{}, errors.New("down")
}

func TestLibraryFallsBackToStaticTable(t *testing.T) {
	primary := &failingSource{}
	lib := NewLibrary(primary, nil)
	lib.Fallback.Intn = func(int) int { return 4 }

	v, err := lib.LookupByTag(context.Background(), MoodSad)
	require.NoError(t, err)
	assert.Equal(t, "Psalm 23:1", v.Reference)

	v, err = lib.LookupRandom(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NIV", v.Version)
	assert.Equal(t, 2, primary.calls)
}

func TestStaticNeedsNoPrimary(t *testing.T) {
	lib := NewLibrary(nil, nil)
	v, err := lib.LookupRandom(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, v.Text)
	assert.Len(t, FallbackVerses(), 5)
}
