package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"versebot/internal/remote"
)

const DefaultBibleAPIURL = "https://api.scripture.api.bible/v1"

// BibleIDs maps translation abbreviations to api.bible ids.
var BibleIDs = map[string]string{
	"ESV": "de4e12af7f28f599-02",
	"NIV": "71c6eab17ae5b667-01",
	"KJV": "de4e12af7f28f599-01",
	"NLT": "71c6eab17ae5b667-04",
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// BibleAPI fetches verses from api.bible by reference.
type BibleAPI struct {
	BaseURL    string
	APIKey     string
	Version    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Log        *zap.Logger
	// Intn picks a reference from a mood list; nil uses math/rand.
	Intn func(n int) int
}

func NewBibleAPI(apiKey, version string, log *zap.Logger) *BibleAPI {
	if log == nil {
		log = zap.NewNop()
	}
	return &BibleAPI{
		BaseURL: DefaultBibleAPIURL,
		APIKey:  apiKey,
		Version: version,
		Timeout: 15 * time.Second,
		Log:     log.Named("bibleapi"),
	}
}

func (b *BibleAPI) LookupByTag(ctx context.Context, mood Mood) (Verse, error) {
	refs := references[ParseMood(string(mood))]
	return b.LookupReference(ctx, refs[intn(b.Intn, len(refs))])
}

// LookupRandom draws a reference from the union of every mood list.
func (b *BibleAPI) LookupRandom(ctx context.Context) (Verse, error) {
	m := moods[intn(b.Intn, len(moods))]
	return b.LookupByTag(ctx, m)
}

// LookupReference fetches one verse, e.g. "JHN.3.16".
func (b *BibleAPI) LookupReference(ctx context.Context, ref string) (Verse, error) {
	version := b.version()
	endpoint := fmt.Sprintf("%s/bibles/%s/verses/%s",
		strings.TrimRight(b.BaseURL, "/"), url.PathEscape(BibleIDs[version]), url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Verse{}, err
	}
	req.Header.Set("api-key", b.APIKey)
	req.Header.Set("Accept", "application/json")
	resp, err := b.client().Do(req)
	if err != nil {
		return Verse{}, remote.Wrap("bible.verse", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Verse{}, remote.FromStatus("bible.verse", resp.StatusCode, string(body))
	}
	var payload struct {
		Data struct {
			Reference string `json:"reference"`
			Content   string `json:"content"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Verse{}, &remote.Error{Op: "bible.verse", Kind: remote.KindPermanent, Status: resp.StatusCode, Err: err}
	}
	text := CleanText(payload.Data.Content)
	if text == "" {
		return Verse{}, &remote.Error{Op: "bible.verse", Kind: remote.KindNoData, Status: resp.StatusCode, Err: fmt.Errorf("empty verse %s", ref)}
	}
	b.Log.Debug("bibleapi.verse", zap.String("ref", ref), zap.String("version", version))
	return Verse{Text: text, Reference: payload.Data.Reference, Version: version}, nil
}

func (b *BibleAPI) version() string {
	v := strings.ToUpper(strings.TrimSpace(b.Version))
	if _, ok := BibleIDs[v]; ok {
		return v
	}
	return "ESV"
}

func (b *BibleAPI) client() *http.Client {
	if b.HTTPClient == nil {
		b.HTTPClient = &http.Client{Timeout: b.Timeout}
	}
	return b.HTTPClient
}

// CleanText strips markup and collapses whitespace.
func CleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
