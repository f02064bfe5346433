package quota

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSnapshotArithmetic(t *testing.T) {
	tr := New(100, nil, nil)
	assert.Equal(t, Snapshot{Made: 0, Limit: 100, Remaining: 100, PercentUsed: 0}, tr.Snapshot())

	for i := 0; i < 25; i++ {
		tr.RecordCall("mentions")
	}
	snap := tr.Snapshot()
	assert.Equal(t, 25, snap.Made)
	assert.Equal(t, 75, snap.Remaining)
	assert.Equal(t, snap.Limit, snap.Made+snap.Remaining)
	assert.InDelta(t, 25.0, snap.PercentUsed, 0.001)
}

func TestDefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultMonthlyLimit, New(0, nil, nil).Snapshot().Limit)
	assert.Equal(t, DefaultMonthlyLimit, New(-5, nil, nil).Snapshot().Limit)
}

func TestRemainingNeverNegative(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tr := New(2, zap.New(core), nil)
	for i := 0; i < 4; i++ {
		tr.RecordCall("search")
	}
	snap := tr.Snapshot()
	assert.Equal(t, 4, snap.Made)
	assert.Equal(t, 0, snap.Remaining)
	assert.InDelta(t, 200.0, snap.PercentUsed, 0.001)
	assert.Equal(t, 3, logs.FilterMessage("quota.exhausted").Len())
	assert.Equal(t, 1, logs.FilterMessage("quota.call").Len())
}

func TestConcurrentCallsAreCounted(t *testing.T) {
	tr := New(1000, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tr.RecordCall("mentions")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, tr.Snapshot().Made)
}
