package services

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/sbs-relay/domain"
)

const (
	// StatsTickInterval is the refresh period of derived stats fields
	StatsTickInterval = time.Second

	// RateWindow is the length of the rolling message-rate window
	RateWindow = 60 * time.Second
)

// MemorySampler returns the resident memory of the current process in bytes
type MemorySampler func() (uint64, error)

// StatsAggregator holds relay counters. Writers are the frame reader, the
// forwarder and the 1s ticker; readers are the dashboard handlers.
type StatsAggregator struct {
	mu    sync.RWMutex
	stats domain.StatsSnapshot

	now           func() time.Time
	sampleMemory  MemorySampler
	counters      statsCounters
	sampleFailing bool
}

type statsCounters struct {
	messages  metric.Int64Counter
	received  metric.Int64Counter
	dropped   metric.Int64Counter
	forwarded metric.Int64Counter
	errors    metric.Int64Counter
	reconnect metric.Int64Counter
}

// NewStatsAggregator creates the aggregator; a nil meter disables metric export
func NewStatsAggregator(meter metric.Meter) *StatsAggregator {
	return newStatsAggregator(meter, time.Now, ProcessMemorySampler())
}

func newStatsAggregator(meter metric.Meter, now func() time.Time, sampler MemorySampler) *StatsAggregator {
	start := now().UTC()
	s := &StatsAggregator{
		stats: domain.StatsSnapshot{
			StartTime:       start,
			LastMinuteStart: start,
			ConnectionState: domain.Disconnected.String(),
		},
		now:          now,
		sampleMemory: sampler,
	}
	if meter != nil {
		s.counters = newStatsCounters(meter)
	}
	return s
}

func newStatsCounters(meter metric.Meter) statsCounters {
	mk := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil {
			log.Error("failed to init the metrics " + err.Error())
			return nil
		}
		return c
	}
	return statsCounters{
		messages:  mk("relay_messages_total", "Newline-delimited messages ingested"),
		received:  mk("relay_bytes_received_total", "Bytes read from the upstream receiver"),
		dropped:   mk("relay_bytes_dropped_total", "Unflushed bytes discarded on buffer reset"),
		forwarded: mk("relay_batches_forwarded_total", "Batches accepted by the collector"),
		errors:    mk("relay_forward_errors_total", "Batches dropped after a forward failure"),
		reconnect: mk("relay_reconnects_total", "Upstream connections re-established after the first"),
	}
}

func add(c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(context.Background(), n)
	}
}

// ProcessMemorySampler samples this process' RSS through gopsutil
func ProcessMemorySampler() MemorySampler {
	var (
		once sync.Once
		proc *process.Process
		err  error
	)
	return func() (uint64, error) {
		once.Do(func() {
			proc, err = process.NewProcess(int32(os.Getpid()))
		})
		if err != nil {
			return 0, err
		}
		info, err := proc.MemoryInfo()
		if err != nil {
			return 0, err
		}
		return info.RSS, nil
	}
}

// RecordBatch adds count messages to the total and the current rate window
func (s *StatsAggregator) RecordBatch(count int) {
	s.mu.Lock()
	now := s.now().UTC()
	s.stats.TotalMessages += int64(count)
	s.stats.LastMinuteMessages += int64(count)
	s.stats.LastMessageTime = &now
	s.mu.Unlock()

	add(s.counters.messages, int64(count))
}

func (s *StatsAggregator) RecordBytesReceived(n int) {
	s.mu.Lock()
	s.stats.BytesReceived += int64(n)
	s.mu.Unlock()

	add(s.counters.received, int64(n))
}

func (s *StatsAggregator) RecordBytesDropped(n int) {
	s.mu.Lock()
	s.stats.BytesDropped += int64(n)
	s.mu.Unlock()

	add(s.counters.dropped, int64(n))
}

func (s *StatsAggregator) RecordForwarded() {
	s.mu.Lock()
	s.stats.BatchesForwarded++
	s.mu.Unlock()

	add(s.counters.forwarded, 1)
}

func (s *StatsAggregator) RecordForwardError() {
	s.mu.Lock()
	s.stats.ForwardErrors++
	s.mu.Unlock()

	add(s.counters.errors, 1)
}

func (s *StatsAggregator) RecordReconnect() {
	s.mu.Lock()
	s.stats.Reconnects++
	s.mu.Unlock()

	add(s.counters.reconnect, 1)
}

func (s *StatsAggregator) SetConnectionState(state domain.ConnectionState) {
	s.mu.Lock()
	s.stats.ConnectionState = state.String()
	s.mu.Unlock()
}

// Snapshot returns a copy decoupled from further updates
func (s *StatsAggregator) Snapshot() domain.StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.stats
	if s.stats.LastMessageTime != nil {
		t := *s.stats.LastMessageTime
		snap.LastMessageTime = &t
	}
	return snap
}

// Tick refreshes uptime, rolls the rate window once it is RateWindow old,
// and samples memory. Peak memory never decreases.
func (s *StatsAggregator) Tick() {
	var (
		rss       uint64
		sampleErr error
	)
	if s.sampleMemory != nil {
		rss, sampleErr = s.sampleMemory()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.stats.UptimeSeconds = int64(now.Sub(s.stats.StartTime) / time.Second)

	if now.Sub(s.stats.LastMinuteStart) >= RateWindow {
		s.stats.MessagesPerMinute = s.stats.LastMinuteMessages
		s.stats.LastMinuteMessages = 0
		s.stats.LastMinuteStart = now
	}

	if sampleErr != nil {
		// keep the last sample; log once per failure streak
		if !s.sampleFailing {
			log.Warnf("failed to sample process memory: %v", sampleErr)
		}
		s.sampleFailing = true
		return
	}
	s.sampleFailing = false

	mb := float64(rss) / 1024.0 / 1024.0
	s.stats.MemoryUsageMB = mb
	if mb > s.stats.MemoryPeakMB {
		s.stats.MemoryPeakMB = mb
	}
}

// Run ticks every StatsTickInterval until ctx is cancelled
func (s *StatsAggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(StatsTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}
