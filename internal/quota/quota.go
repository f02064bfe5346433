// Package quota keeps an advisory, process-lifetime tally of feed read calls. The
// authoritative limit lives on the platform side; this counter resets on restart and never
// blocks a call.
package quota

import (
	"sync"

	"go.uber.org/zap"

	"versebot/internal/metrics"
)

// DefaultMonthlyLimit is the documented free-tier read budget.
const DefaultMonthlyLimit = 100

type Snapshot struct {
	Made        int     `json:"made"`
	Limit       int     `json:"limit"`
	Remaining   int     `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
}

type Tracker struct {
	mu      sync.Mutex
	made    int
	limit   int
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(limit int, log *zap.Logger, m *metrics.Metrics) *Tracker {
	if limit <= 0 {
		limit = DefaultMonthlyLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{limit: limit, log: log.Named("quota"), metrics: m}
}

// RecordCall counts one remote read call of the given kind.
func (t *Tracker) RecordCall(kind string) {
	t.mu.Lock()
	t.made++
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.metrics.FeedCall(kind, snap.Remaining)
	fields := []zap.Field{
		zap.String("kind", kind),
		zap.Int("made", snap.Made),
		zap.Int("remaining", snap.Remaining),
		zap.Float64("percent_used", snap.PercentUsed),
	}
	if snap.Remaining <= 0 {
		t.log.Warn("quota.exhausted", fields...)
		return
	}
	t.log.Info("quota.call", fields...)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	remaining := t.limit - t.made
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Made:        t.made,
		Limit:       t.limit,
		Remaining:   remaining,
		PercentUsed: float64(t.made) / float64(t.limit) * 100,
	}
}
