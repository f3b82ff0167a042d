package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/sbs-relay/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAggregator(sampler MemorySampler) (*StatsAggregator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return newStatsAggregator(nil, clock.Now, sampler), clock
}

func TestRecordBatchConcurrent(t *testing.T) {
	s, _ := newTestAggregator(nil)

	const workers, perWorker = 16, 500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.RecordBatch(3)
			}
		}()
	}
	// the ticker races with writers in production
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			s.Tick()
		}
	}()
	wg.Wait()

	snap := s.Snapshot()
	assert.EqualValues(t, workers*perWorker*3, snap.TotalMessages)
	assert.EqualValues(t, workers*perWorker*3, snap.LastMinuteMessages)
	require.NotNil(t, snap.LastMessageTime)
}

func TestRateWindowRollsAfterSixtySeconds(t *testing.T) {
	s, clock := newTestAggregator(nil)

	// one message per second for 60 seconds
	for i := 0; i < 60; i++ {
		s.RecordBatch(1)
		clock.Advance(time.Second)
		s.Tick()
	}

	snap := s.Snapshot()
	assert.EqualValues(t, 60, snap.MessagesPerMinute)
	assert.EqualValues(t, 0, snap.LastMinuteMessages)
	assert.Equal(t, clock.Now(), snap.LastMinuteStart)
	assert.EqualValues(t, 60, snap.UptimeSeconds)

	// the next window keeps publishing the previous count until it closes
	for i := 0; i < 30; i++ {
		s.RecordBatch(1)
		clock.Advance(time.Second)
		s.Tick()
	}
	snap = s.Snapshot()
	assert.EqualValues(t, 60, snap.MessagesPerMinute)
	assert.EqualValues(t, 30, snap.LastMinuteMessages)
	assert.EqualValues(t, 90, snap.TotalMessages)
}

func TestRateWindowNotRolledEarly(t *testing.T) {
	s, clock := newTestAggregator(nil)

	s.RecordBatch(5)
	clock.Advance(59 * time.Second)
	s.Tick()

	snap := s.Snapshot()
	assert.EqualValues(t, 0, snap.MessagesPerMinute)
	assert.EqualValues(t, 5, snap.LastMinuteMessages)
}

func TestMemoryPeakNeverDecreases(t *testing.T) {
	samples := []uint64{100 << 20, 300 << 20, 200 << 20}
	i := 0
	s, _ := newTestAggregator(func() (uint64, error) {
		v := samples[i]
		i++
		return v, nil
	})

	s.Tick()
	s.Tick()
	s.Tick()

	snap := s.Snapshot()
	assert.InDelta(t, 200.0, snap.MemoryUsageMB, 0.001)
	assert.InDelta(t, 300.0, snap.MemoryPeakMB, 0.001)
}

func TestMemorySampleFailureKeepsLastValue(t *testing.T) {
	fail := false
	s, _ := newTestAggregator(func() (uint64, error) {
		if fail {
			return 0, errors.New("no such process")
		}
		return 50 << 20, nil
	})

	s.Tick()
	fail = true
	s.Tick()

	snap := s.Snapshot()
	assert.InDelta(t, 50.0, snap.MemoryUsageMB, 0.001)
	assert.InDelta(t, 50.0, snap.MemoryPeakMB, 0.001)
}

func TestSnapshotIsDecoupled(t *testing.T) {
	s, clock := newTestAggregator(nil)
	s.RecordBatch(1)
	snap := s.Snapshot()
	first := *snap.LastMessageTime

	clock.Advance(time.Minute)
	s.RecordBatch(1)
	s.SetConnectionState(domain.Connected)

	assert.Equal(t, first, *snap.LastMessageTime)
	assert.EqualValues(t, 1, snap.TotalMessages)
	assert.Equal(t, "disconnected", snap.ConnectionState)
	assert.Equal(t, "connected", s.Snapshot().ConnectionState)
}

func TestCountersAccumulate(t *testing.T) {
	s, _ := newTestAggregator(nil)
	s.RecordBytesReceived(10)
	s.RecordBytesReceived(5)
	s.RecordBytesDropped(7)
	s.RecordForwarded()
	s.RecordForwardError()
	s.RecordForwardError()
	s.RecordReconnect()

	snap := s.Snapshot()
	assert.EqualValues(t, 15, snap.BytesReceived)
	assert.EqualValues(t, 7, snap.BytesDropped)
	assert.EqualValues(t, 1, snap.BatchesForwarded)
	assert.EqualValues(t, 2, snap.ForwardErrors)
	assert.EqualValues(t, 1, snap.Reconnects)
}
