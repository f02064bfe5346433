package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"versebot/internal/domain"
	"versebot/internal/events"
	"versebot/internal/store"
)

// Repo is the SQLite implementation of store.Store.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var ErrNotFound = store.ErrNotFound

var _ store.Store = Repo{}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Writer{Now: time.Now}}
}

func (r Repo) Close() error {
	return r.DB.Close()
}

const interactionColumns = `item_id,author_id,username,inbound_text,outcome_text,reply_id,category,source,status,failure_reason,created_at,responded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (domain.Interaction, error) {
	var in domain.Interaction
	var username, outcome, replyID, reason, respondedAt sql.NullString
	err := row.Scan(&in.ItemID, &in.AuthorID, &username, &in.InboundText, &outcome, &replyID,
		&in.Category, &in.Source, &in.Status, &reason, &in.CreatedAt, &respondedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.Username = username.String
	in.OutcomeText = nullString(outcome)
	in.ReplyID = nullString(replyID)
	in.FailureReason = nullString(reason)
	in.RespondedAt = nullString(respondedAt)
	return in, nil
}

func (r Repo) UpsertPending(ctx context.Context, in domain.Interaction) error {
	if in.ItemID == "" {
		return errors.New("item id is required")
	}
	if in.Source == "" {
		in.Source = domain.SourceMention
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO interactions(item_id,author_id,username,inbound_text,category,source,status,created_at)
VALUES (?,?,?,?,?,?,'pending',?)
ON CONFLICT(item_id) DO UPDATE SET
  username=excluded.username,
  inbound_text=excluded.inbound_text,
  category=excluded.category`,
		in.ItemID, in.AuthorID, nullable(in.Username), in.InboundText, in.Category, in.Source, in.CreatedAt); err != nil {
		return fmt.Errorf("upsert interaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO actors(author_id,username,last_interaction_at,interaction_count) VALUES (?,?,?,1)
ON CONFLICT(author_id) DO UPDATE SET
  username=COALESCE(excluded.username, actors.username),
  last_interaction_at=excluded.last_interaction_at,
  interaction_count=actors.interaction_count+1`,
		in.AuthorID, nullable(in.Username), in.CreatedAt); err != nil {
		return fmt.Errorf("upsert actor: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.InteractionPending, "interaction", in.ItemID, events.EventPayload{
		"author_id": in.AuthorID,
		"category":  in.Category,
		"source":    in.Source,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) GetInteraction(ctx context.Context, itemID string) (domain.Interaction, error) {
	return scanInteraction(r.DB.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE item_id=?`, itemID))
}

func (r Repo) CompleteInteraction(ctx context.Context, itemID, outcomeText string, replyID *string, respondedAt string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE interactions SET status='completed', outcome_text=?, reply_id=?, responded_at=?, failure_reason=NULL WHERE item_id=?`,
		outcomeText, nullableStringPtr(replyID), respondedAt, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	evtType := events.InteractionCompleted
	if derefOrEmpty(replyID) == "" {
		evtType = events.InteractionDeclined
	}
	if err := r.Events.Append(ctx, tx, evtType, "interaction", itemID, events.EventPayload{
		"reply_id": derefOrEmpty(replyID),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) FailInteraction(ctx context.Context, itemID, reason, at string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE interactions SET status='failed', failure_reason=? WHERE item_id=?`, reason, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := r.Events.Append(ctx, tx, events.InteractionFailed, "interaction", itemID, events.EventPayload{
		"reason": reason,
		"at":     at,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) ReopenInteraction(ctx context.Context, itemID, at string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE interactions SET status='pending', failure_reason=NULL WHERE item_id=? AND status='failed'`, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("interaction %s is not failed: %w", itemID, ErrNotFound)
	}
	if err := r.Events.Append(ctx, tx, events.InteractionReopened, "interaction", itemID, events.EventPayload{"at": at}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) CountCompletedSince(ctx context.Context, since string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions WHERE status='completed' AND responded_at > ?`, since).Scan(&n)
	return n, err
}

func (r Repo) DeletePendingBefore(ctx context.Context, before string) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE status='pending' AND created_at < ?`, before)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if err := r.Events.Append(ctx, tx, events.InteractionsPurged, "interaction", "", events.EventPayload{
		"before":  before,
		"deleted": n,
	}); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (r Repo) ListInteractions(ctx context.Context, limit int, status string) ([]domain.Interaction, error) {
	var (
		clauses []string
		args    []any
	)
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + interactionColumns + ` FROM interactions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, item_id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
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

func (r Repo) GetActor(ctx context.Context, authorID string) (domain.ActorProfile, error) {
	var a domain.ActorProfile
	var username sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT author_id,username,last_interaction_at,interaction_count FROM actors WHERE author_id=?`, authorID).
		Scan(&a.AuthorID, &username, &a.LastInteractionAt, &a.InteractionCount)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Username = username.String
	return a, err
}

func (r Repo) UpsertDailyPost(ctx context.Context, p domain.DailyPost) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO daily_posts(date,verse_reference,verse_text,post_id,reply_post_id,posted_at,forced) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(date) DO UPDATE SET
  verse_reference=excluded.verse_reference,
  verse_text=excluded.verse_text,
  post_id=excluded.post_id,
  reply_post_id=excluded.reply_post_id,
  posted_at=excluded.posted_at,
  forced=excluded.forced`,
		p.Date, p.VerseReference, p.VerseText, p.PostID, nullableStringPtr(p.ReplyPostID), p.PostedAt, boolInt(p.Forced)); err != nil {
		return fmt.Errorf("upsert daily post: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.DailyPostPublished, "daily_post", p.Date, events.EventPayload{
		"post_id":   p.PostID,
		"reference": p.VerseReference,
		"forced":    p.Forced,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func scanDailyPost(row rowScanner) (domain.DailyPost, error) {
	var p domain.DailyPost
	var replyID sql.NullString
	var forced int
	err := row.Scan(&p.Date, &p.VerseReference, &p.VerseText, &p.PostID, &replyID, &p.PostedAt, &forced)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.ReplyPostID = nullString(replyID)
	p.Forced = forced != 0
	return p, err
}

func (r Repo) GetDailyPost(ctx context.Context, date string) (domain.DailyPost, error) {
	return scanDailyPost(r.DB.QueryRowContext(ctx, `SELECT date,verse_reference,verse_text,post_id,reply_post_id,posted_at,forced FROM daily_posts WHERE date=?`, date))
}

func (r Repo) ListDailyPosts(ctx context.Context, sinceDate string) ([]domain.DailyPost, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT date,verse_reference,verse_text,post_id,reply_post_id,posted_at,forced FROM daily_posts WHERE date >= ? ORDER BY date DESC`, sinceDate)
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

func (r Repo) Stats(ctx context.Context, dayStart string) (domain.Stats, error) {
	var s domain.Stats
	err := r.DB.QueryRowContext(ctx, `SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='completed' AND reply_id IS NOT NULL THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='completed' AND reply_id IS NULL THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='pending' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END),0),
  COUNT(DISTINCT author_id)
FROM interactions`, dayStart).Scan(&s.TotalInteractions, &s.Completed, &s.Replied, &s.Declined, &s.Failed, &s.Pending, &s.Today, &s.UniqueUsers)
	if err != nil {
		return s, err
	}
	s.ResponseRate = domain.ResponseRate(s.Replied, s.TotalInteractions)
	return s, nil
}

func (r Repo) AppendEvent(ctx context.Context, evtType, entityKind, entityID string, payload map[string]any) error {
	return r.Events.Append(ctx, r.DB, evtType, entityKind, entityID, payload)
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	var args []any
	if evtType != "" {
		query += " WHERE type=?"
		args = append(args, evtType)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
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

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func derefOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
