package versebotsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal versebot status API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Quota struct {
	Made        int     `json:"made"`
	Limit       int     `json:"limit"`
	Remaining   int     `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
}

type Stats struct {
	TotalInteractions int     `json:"total_interactions"`
	Completed         int     `json:"completed"`
	Replied           int     `json:"replied"`
	Declined          int     `json:"declined"`
	Failed            int     `json:"failed"`
	Pending           int     `json:"pending"`
	Today             int     `json:"today_interactions"`
	UniqueUsers       int     `json:"unique_users"`
	ResponseRate      float64 `json:"response_rate"`
	Quota             Quota   `json:"quota"`
}

type DailyPost struct {
	Date           string `json:"date"`
	VerseReference string `json:"verse_reference"`
	VerseText      string `json:"verse_text"`
	PostID         string `json:"post_id"`
	ReplyPostID    string `json:"reply_post_id,omitempty"`
	PostedAt       string `json:"posted_at"`
	Forced         bool   `json:"forced"`
}

type NextRun struct {
	Job  string    `json:"job"`
	Next time.Time `json:"next"`
}

// Status is the combined operator view.
type Status struct {
	Stats
	History  []DailyPost `json:"history"`
	NextRuns []NextRun   `json:"next_runs"`
}

type Interaction struct {
	ItemID        string `json:"item_id"`
	AuthorID      string `json:"author_id"`
	Username      string `json:"username,omitempty"`
	InboundText   string `json:"inbound_text"`
	OutcomeText   string `json:"outcome_text,omitempty"`
	ReplyID       string `json:"reply_id,omitempty"`
	Category      string `json:"category"`
	Source        string `json:"source"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
	RespondedAt   string `json:"responded_at,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

// Interactions lists recent ledger rows, optionally filtered by status.
func (c *Client) Interactions(ctx context.Context, status string, limit int) ([]Interaction, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp []Interaction
	err := c.do(ctx, http.MethodGet, withQuery("v0/interactions", q), nil, &resp)
	return resp, err
}

// Reopen moves a failed interaction back to pending. The token needs the reopen permission.
func (c *Client) Reopen(ctx context.Context, itemID string) (Interaction, error) {
	var resp Interaction
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/interactions/%s/reopen", url.PathEscape(itemID)), nil, &resp)
	return resp, err
}

// Events tails the audit log, optionally filtered by type.
func (c *Client) Events(ctx context.Context, evtType string, limit int) ([]Event, error) {
	q := url.Values{}
	if evtType != "" {
		q.Set("type", evtType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
