package feed

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"versebot/internal/domain"
)

// DryRun passes reads through to Client and simulates every publish.
type DryRun struct {
	Client Client
	Log    *zap.Logger
}

func NewDryRun(c Client, log *zap.Logger) DryRun {
	if log == nil {
		log = zap.NewNop()
	}
	return DryRun{Client: c, Log: log.Named("dry_run")}
}

func (d DryRun) FetchMentions(ctx context.Context, sinceID string, count int) ([]domain.InboundItem, error) {
	return d.Client.FetchMentions(ctx, sinceID, count)
}

func (d DryRun) SearchRecent(ctx context.Context, query string, count int) ([]domain.InboundItem, error) {
	return d.Client.SearchRecent(ctx, query, count)
}

func (d DryRun) PublishPost(_ context.Context, text string) (string, error) {
	id := syntheticID()
	d.Log.Info("dry_run.publish_post", zap.String("post_id", id), zap.String("text", Clip(text)))
	return id, nil
}

func (d DryRun) PublishReply(_ context.Context, parentID, text string) (string, error) {
	id := syntheticID()
	d.Log.Info("dry_run.publish_reply",
		zap.String("post_id", id),
		zap.String("parent_id", parentID),
		zap.String("text", Clip(text)))
	return id, nil
}

func syntheticID() string {
	return "dry_run_" + uuid.NewString()
}

// IsSynthetic reports whether id came from a simulated publish.
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, "dry_run_")
}
