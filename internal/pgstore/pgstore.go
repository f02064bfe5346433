// Package pgstore is the Postgres implementation of store.Store.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"versebot/internal/domain"
	"versebot/internal/events"
	"versebot/internal/store"
)

type Store struct {
	Pool *pgxpool.Pool
	Now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New connects and creates the schema if it does not exist yet.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{Pool: pool, Now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS interactions (
			item_id        TEXT PRIMARY KEY,
			author_id      TEXT NOT NULL,
			username       TEXT,
			inbound_text   TEXT NOT NULL,
			outcome_text   TEXT,
			reply_id       TEXT,
			category       TEXT NOT NULL DEFAULT '',
			source         TEXT NOT NULL DEFAULT 'mention',
			status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','completed','failed')),
			failure_reason TEXT,
			created_at     TEXT NOT NULL,
			responded_at   TEXT,
			CHECK (status <> 'completed' OR responded_at IS NOT NULL)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_status_responded ON interactions(status, responded_at)`,
		`CREATE TABLE IF NOT EXISTS actors (
			author_id           TEXT PRIMARY KEY,
			username            TEXT,
			last_interaction_at TEXT NOT NULL,
			interaction_count   INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS daily_posts (
			date            TEXT PRIMARY KEY,
			verse_reference TEXT NOT NULL,
			verse_text      TEXT NOT NULL,
			post_id         TEXT NOT NULL,
			reply_post_id   TEXT,
			posted_at       TEXT NOT NULL,
			forced          BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id           BIGSERIAL PRIMARY KEY,
			ts           TEXT NOT NULL,
			type         TEXT NOT NULL,
			entity_kind  TEXT NOT NULL,
			entity_id    TEXT,
			payload_json TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) appendEvent(ctx context.Context, tx pgx.Tx, evtType, entityKind, entityID string, payload map[string]any) error {
	data, err := events.Marshal(payload)
	if err != nil {
		return err
	}
	const q = `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES ($1,$2,$3,$4,$5)`
	args := []any{domain.Timestamp(s.now()), evtType, entityKind, nullable(entityID), data}
	if tx != nil {
		_, err = tx.Exec(ctx, q, args...)
	} else {
		_, err = s.Pool.Exec(ctx, q, args...)
	}
	return err
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) UpsertPending(ctx context.Context, in domain.Interaction) error {
	if in.ItemID == "" {
		return errors.New("item id is required")
	}
	if in.Source == "" {
		in.Source = domain.SourceMention
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO interactions(item_id,author_id,username,inbound_text,category,source,status,created_at)
VALUES ($1,$2,$3,$4,$5,$6,'pending',$7)
ON CONFLICT (item_id) DO UPDATE SET
  username = EXCLUDED.username,
  inbound_text = EXCLUDED.inbound_text,
  category = EXCLUDED.category`,
			in.ItemID, in.AuthorID, nullable(in.Username), in.InboundText, in.Category, in.Source, in.CreatedAt); err != nil {
			return fmt.Errorf("upsert interaction: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO actors(author_id,username,last_interaction_at,interaction_count) VALUES ($1,$2,$3,1)
ON CONFLICT (author_id) DO UPDATE SET
  username = COALESCE(EXCLUDED.username, actors.username),
  last_interaction_at = EXCLUDED.last_interaction_at,
  interaction_count = actors.interaction_count + 1`,
			in.AuthorID, nullable(in.Username), in.CreatedAt); err != nil {
			return fmt.Errorf("upsert actor: %w", err)
		}
		return s.appendEvent(ctx, tx, events.InteractionPending, "interaction", in.ItemID, map[string]any{
			"author_id": in.AuthorID,
			"category":  in.Category,
			"source":    in.Source,
		})
	})
}

const interactionColumns = `item_id,author_id,username,inbound_text,outcome_text,reply_id,category,source,status,failure_reason,created_at,responded_at`

func scanInteraction(row pgx.Row) (domain.Interaction, error) {
	var in domain.Interaction
	var username *string
	err := row.Scan(&in.ItemID, &in.AuthorID, &username, &in.InboundText, &in.OutcomeText, &in.ReplyID,
		&in.Category, &in.Source, &in.Status, &in.FailureReason, &in.CreatedAt, &in.RespondedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return in, store.ErrNotFound
	}
	if username != nil {
		in.Username = *username
	}
	return in, err
}

func (s *Store) GetInteraction(ctx context.Context, itemID string) (domain.Interaction, error) {
	return scanInteraction(s.Pool.QueryRow(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE item_id = $1`, itemID))
}

func (s *Store) CompleteInteraction(ctx context.Context, itemID, outcomeText string, replyID *string, respondedAt string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE interactions SET status='completed', outcome_text=$1, reply_id=$2, responded_at=$3, failure_reason=NULL WHERE item_id=$4`,
			outcomeText, nullablePtr(replyID), respondedAt, itemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		evtType := events.InteractionCompleted
		if replyID == nil || *replyID == "" {
			evtType = events.InteractionDeclined
		}
		return s.appendEvent(ctx, tx, evtType, "interaction", itemID, map[string]any{"reply_id": deref(replyID)})
	})
}

func (s *Store) FailInteraction(ctx context.Context, itemID, reason, at string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE interactions SET status='failed', failure_reason=$1 WHERE item_id=$2`, reason, itemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return s.appendEvent(ctx, tx, events.InteractionFailed, "interaction", itemID, map[string]any{"reason": reason, "at": at})
	})
}

func (s *Store) ReopenInteraction(ctx context.Context, itemID, at string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE interactions SET status='pending', failure_reason=NULL WHERE item_id=$1 AND status='failed'`, itemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("interaction %s is not failed: %w", itemID, store.ErrNotFound)
		}
		return s.appendEvent(ctx, tx, events.InteractionReopened, "interaction", itemID, map[string]any{"at": at})
	})
}

func (s *Store) CountCompletedSince(ctx context.Context, since string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM interactions WHERE status='completed' AND responded_at > $1`, since).Scan(&n)
	return n, err
}

func (s *Store) DeletePendingBefore(ctx context.Context, before string) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM interactions WHERE status='pending' AND created_at < $1`, before)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return s.appendEvent(ctx, tx, events.InteractionsPurged, "interaction", "", map[string]any{"before": before, "deleted": deleted})
	})
	return deleted, err
}

func (s *Store) ListInteractions(ctx context.Context, limit int, status string) ([]domain.Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, item_id DESC`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (s *Store) GetActor(ctx context.Context, authorID string) (domain.ActorProfile, error) {
	var a domain.ActorProfile
	var username *string
	err := s.Pool.QueryRow(ctx, `SELECT author_id,username,last_interaction_at,interaction_count FROM actors WHERE author_id=$1`, authorID).
		Scan(&a.AuthorID, &username, &a.LastInteractionAt, &a.InteractionCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, store.ErrNotFound
	}
	if username != nil {
		a.Username = *username
	}
	return a, err
}

func (s *Store) UpsertDailyPost(ctx context.Context, p domain.DailyPost) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO daily_posts(date,verse_reference,verse_text,post_id,reply_post_id,posted_at,forced) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (date) DO UPDATE SET
  verse_reference = EXCLUDED.verse_reference,
  verse_text = EXCLUDED.verse_text,
  post_id = EXCLUDED.post_id,
  reply_post_id = EXCLUDED.reply_post_id,
  posted_at = EXCLUDED.posted_at,
  forced = EXCLUDED.forced`,
			p.Date, p.VerseReference, p.VerseText, p.PostID, nullablePtr(p.ReplyPostID), p.PostedAt, p.Forced); err != nil {
			return fmt.Errorf("upsert daily post: %w", err)
		}
		return s.appendEvent(ctx, tx, events.DailyPostPublished, "daily_post", p.Date, map[string]any{
			"post_id":   p.PostID,
			"reference": p.VerseReference,
			"forced":    p.Forced,
		})
	})
}

const dailyPostColumns = `date,verse_reference,verse_text,post_id,reply_post_id,posted_at,forced`

func scanDailyPost(row pgx.Row) (domain.DailyPost, error) {
	var p domain.DailyPost
	err := row.Scan(&p.Date, &p.VerseReference, &p.VerseText, &p.PostID, &p.ReplyPostID, &p.PostedAt, &p.Forced)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, store.ErrNotFound
	}
	return p, err
}

func (s *Store) GetDailyPost(ctx context.Context, date string) (domain.DailyPost, error) {
	return scanDailyPost(s.Pool.QueryRow(ctx, `SELECT `+dailyPostColumns+` FROM daily_posts WHERE date=$1`, date))
}

func (s *Store) ListDailyPosts(ctx context.Context, sinceDate string) ([]domain.DailyPost, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+dailyPostColumns+` FROM daily_posts WHERE date >= $1 ORDER BY date DESC`, sinceDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DailyPost
	for rows.Next() {
		p, err := scanDailyPost(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) Stats(ctx context.Context, dayStart string) (domain.Stats, error) {
	var st domain.Stats
	err := s.Pool.QueryRow(ctx, `SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE status='completed'),
  COUNT(*) FILTER (WHERE status='completed' AND reply_id IS NOT NULL),
  COUNT(*) FILTER (WHERE status='completed' AND reply_id IS NULL),
  COUNT(*) FILTER (WHERE status='failed'),
  COUNT(*) FILTER (WHERE status='pending'),
  COUNT(*) FILTER (WHERE created_at >= $1),
  COUNT(DISTINCT author_id)
FROM interactions`, dayStart).Scan(&st.TotalInteractions, &st.Completed, &st.Replied, &st.Declined, &st.Failed, &st.Pending, &st.Today, &st.UniqueUsers)
	if err != nil {
		return st, err
	}
	st.ResponseRate = domain.ResponseRate(st.Replied, st.TotalInteractions)
	return st, nil
}

func (s *Store) AppendEvent(ctx context.Context, evtType, entityKind, entityID string, payload map[string]any) error {
	return s.appendEvent(ctx, nil, evtType, entityKind, entityID, payload)
}

func (s *Store) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Pool.Query(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events
WHERE ($1 = '' OR type = $1) ORDER BY id DESC LIMIT $2`, evtType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &payload); err != nil {
			return nil, err
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode event %d payload: %w", e.ID, err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
