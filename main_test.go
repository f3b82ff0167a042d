package main

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/domain"
)

func TestSuperviseRestartsAfterPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		supervise(ctx, "flaky", func(ctx context.Context) error {
			if atomic.AddInt32(&runs, 1) == 1 {
				panic("boom")
			}
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise did not return after cancel")
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&runs))
}

func TestRunProtectedConvertsPanic(t *testing.T) {
	err := runProtected(context.Background(), "t", func(context.Context) error {
		panic("bad state")
	})
	assert.ErrorContains(t, err, "bad state")
}

func TestFlatLineSortsKeys(t *testing.T) {
	line := flatLine(domain.StatsSnapshot{TotalMessages: 7, ConnectionState: "connected"})
	assert.Contains(t, line, "total_messages=7")
	assert.Contains(t, line, "connection_state=connected")
	assert.Less(t, strings.Index(line, "bytes_dropped="), strings.Index(line, "total_messages="))
}

func TestRedactedConfigMasksUUID(t *testing.T) {
	cfg := &config.Config{Service: config.Service{UUID: "0123456789abcdef"}}
	red := redactedConfig(cfg)
	assert.Equal(t, "0123***cdef", red.Service.UUID)
	assert.Equal(t, "0123456789abcdef", cfg.Service.UUID)
}
