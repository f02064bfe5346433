package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"versebot/internal/domain"
	"versebot/internal/remote"
)

const DefaultXURL = "https://api.x.com/2"

const tweetFields = "created_at,author_id,conversation_id,in_reply_to_user_id,referenced_tweets"

// XClient speaks the X API v2. Reads use the app bearer token; publishing uses the user
// context token.
type XClient struct {
	BaseURL     string
	BearerToken string
	UserToken   string
	UserID      string
	HTTPClient  *http.Client
	Quota       CallRecorder
	Log         *zap.Logger
}

func NewXClient(bearer, userToken, userID string, q CallRecorder, log *zap.Logger) *XClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &XClient{
		BaseURL:     DefaultXURL,
		BearerToken: bearer,
		UserToken:   userToken,
		UserID:      userID,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Quota:       q,
		Log:         log.Named("feed"),
	}
}

type xTweet struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	AuthorID         string `json:"author_id"`
	CreatedAt        string `json:"created_at"`
	ConversationID   string `json:"conversation_id"`
	InReplyToUserID  string `json:"in_reply_to_user_id"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type xTimeline struct {
	Data     []xTweet `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
		Tweets []xTweet `json:"tweets"`
	} `json:"includes"`
}

// FetchMentions lists posts mentioning the bot account, newest first.
func (c *XClient) FetchMentions(ctx context.Context, sinceID string, count int) ([]domain.InboundItem, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(clamp(count, 5, 100)))
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", "author_id,referenced_tweets.id")
	q.Set("user.fields", "username")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	path := fmt.Sprintf("users/%s/mentions", url.PathEscape(c.UserID))
	return c.readTimeline(ctx, "mentions", path, q)
}

// SearchRecent runs a recent-search query.
func (c *XClient) SearchRecent(ctx context.Context, query string, count int) ([]domain.InboundItem, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("max_results", strconv.Itoa(clamp(count, 10, 100)))
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", "author_id,referenced_tweets.id")
	q.Set("user.fields", "username")
	return c.readTimeline(ctx, "search", "tweets/search/recent", q)
}

func (c *XClient) PublishPost(ctx context.Context, text string) (string, error) {
	return c.publish(ctx, "", text)
}

func (c *XClient) PublishReply(ctx context.Context, parentID, text string) (string, error) {
	return c.publish(ctx, parentID, text)
}

func (c *XClient) readTimeline(ctx context.Context, kind, path string, q url.Values) ([]domain.InboundItem, error) {
	op := "x." + kind
	if c.Quota != nil {
		c.Quota.RecordCall(kind)
	}
	var tl xTimeline
	if err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), c.BearerToken, nil, &tl); err != nil {
		if remote.IsNoData(err) {
			c.Log.Warn("feed.rate_limited", zap.String("op", op), zap.Error(err))
		}
		return nil, err
	}
	items := toItems(tl)
	c.Log.Info("feed.read", zap.String("op", op), zap.Int("items", len(items)))
	return items, nil
}

func (c *XClient) publish(ctx context.Context, parentID, text string) (string, error) {
	if n := len([]rune(text)); n > MaxPostLength {
		c.Log.Warn("feed.clipped", zap.Int("length", n))
		text = Clip(text)
	}
	body := map[string]any{"text": text}
	if parentID != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": parentID}
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "tweets", c.UserToken, body, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", &remote.Error{Op: "x.publish", Kind: remote.KindPermanent, Err: fmt.Errorf("response carried no post id")}
	}
	c.Log.Info("feed.published", zap.String("post_id", resp.Data.ID), zap.String("parent_id", parentID))
	return resp.Data.ID, nil
}

func (c *XClient) do(ctx context.Context, method, endpoint, token string, body any, out any) error {
	op := "x." + strings.ToLower(method)
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return remote.Wrap(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return remote.FromStatus(op, resp.StatusCode, string(b))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &remote.Error{Op: op, Kind: remote.KindPermanent, Status: resp.StatusCode, Err: err}
		}
	}
	return nil
}

func toItems(tl xTimeline) []domain.InboundItem {
	users := make(map[string]string, len(tl.Includes.Users))
	for _, u := range tl.Includes.Users {
		users[u.ID] = u.Username
	}
	refs := make(map[string]xTweet, len(tl.Includes.Tweets))
	for _, t := range tl.Includes.Tweets {
		refs[t.ID] = t
	}
	items := make([]domain.InboundItem, 0, len(tl.Data))
	for _, t := range tl.Data {
		item := toItem(t, users)
		for _, ref := range t.ReferencedTweets {
			if ref.Type != "replied_to" {
				continue
			}
			if orig, ok := refs[ref.ID]; ok {
				o := toItem(orig, users)
				item.Original = &o
			}
			break
		}
		items = append(items, item)
	}
	return items
}

func toItem(t xTweet, users map[string]string) domain.InboundItem {
	item := domain.InboundItem{
		ID:             t.ID,
		AuthorID:       t.AuthorID,
		AuthorUsername: users[t.AuthorID],
		Text:           t.Text,
		ConversationID: t.ConversationID,
	}
	if item.ConversationID == "" {
		item.ConversationID = t.ID
	}
	if t.InReplyToUserID != "" {
		v := t.InReplyToUserID
		item.InReplyToUserID = &v
	}
	if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		item.CreatedAt = ts
	}
	return item
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
