package receiver

import (
	"context"
	"net"
	"time"

	"github.com/n0needt0/go-goodies/log"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/domain"
	"github.com/n0needt0/goodies/sbs-relay/logging"
)

// Dialer opens the upstream connection
type Dialer func(ctx context.Context) (net.Conn, error)

// StateRecorder tracks the connection lifecycle
type StateRecorder interface {
	SetConnectionState(state domain.ConnectionState)
	RecordReconnect()
}

// Alerter is notified once per outage when connect attempts hit the ceiling
type Alerter interface {
	SendUpstreamFailureAlert(addr string, attempt int, err error) error
}

// Supervisor keeps one connection to the receiver alive for the lifetime of
// the process, reconnecting with linear backoff after every connect failure.
type Supervisor struct {
	addr    string
	dial    Dialer
	sleep   func(ctx context.Context, d time.Duration) error
	backoff Backoff
	reader  *FrameReader
	stats   StateRecorder
	alerter Alerter

	// idlePause separates reconnects after a session that delivered nothing
	idlePause time.Duration

	attempt   int
	alerted   bool
	connected bool
}

// NewSupervisor creates a supervisor dialing the configured receiver address
func NewSupervisor(cfg *config.Config, reader *FrameReader, stats StateRecorder) *Supervisor {
	addr := cfg.ReceiverAddress()
	dialer := &net.Dialer{Timeout: cfg.GetDialTimeout(), KeepAlive: 30 * time.Second}

	s := &Supervisor{
		addr: addr,
		dial: func(ctx context.Context) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
		sleep: sleepContext,
		backoff: Backoff{
			Base:        cfg.GetReconnectBaseDelay(),
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		idlePause: cfg.GetRetryPause(),
		reader:    reader,
		stats:     stats,
	}
	if cfg.SOCAlertClient != nil {
		s.alerter = cfg.SOCAlertClient
	}
	return s
}

// Run connects, serves and reconnects until ctx is cancelled
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.stats.SetConnectionState(domain.Disconnected)

	for {
		if err := ctx.Err(); err != nil {
			logging.Infof("Connection supervisor for %s stopping", s.addr)
			return err
		}

		s.stats.SetConnectionState(domain.Connecting)
		logging.Infof("Connecting to receiver %s (attempt %d)", s.addr, s.attempt+1)

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.connectFailed(err)
			// cancellation is picked up at the top of the loop
			_ = s.sleep(ctx, s.backoff.Delay(s.attempt))
			continue
		}

		s.connectSucceeded()
		err = s.reader.Serve(ctx, conn)
		conn.Close()
		s.stats.SetConnectionState(domain.Disconnected)

		if ctx.Err() != nil {
			continue
		}
		if err != nil {
			log.Warnf("Connection to %s lost: %v, reconnecting", s.addr, err)
		} else {
			logging.Infof("Connection to %s closed by peer, reconnecting", s.addr)
		}

		if s.reader.SessionBytes() == 0 {
			log.Warnf("Connection to %s ended without data, pausing %s before reconnecting", s.addr, s.idlePause)
			_ = s.sleep(ctx, s.idlePause)
		}
	}
}

func (s *Supervisor) connectFailed(err error) {
	s.attempt++
	s.stats.SetConnectionState(domain.Disconnected)
	log.Errorf("Failed to connect to receiver %s (attempt %d, next delay %s): %v",
		s.addr, s.attempt, s.backoff.Delay(s.attempt), err)

	if s.alerter == nil || s.alerted || s.attempt < s.backoff.MaxAttempts {
		return
	}
	s.alerted = true
	go func(attempt int) {
		if alertErr := s.alerter.SendUpstreamFailureAlert(s.addr, attempt, err); alertErr != nil {
			log.Warnf("Failed to send SOC alert: %v", alertErr)
		}
	}(s.attempt)
}

func (s *Supervisor) connectSucceeded() {
	if s.attempt > 0 {
		logging.Infof("Connected to receiver %s after %d failed attempts", s.addr, s.attempt)
	} else {
		logging.Infof("Connected to receiver %s", s.addr)
	}
	if s.connected {
		s.stats.RecordReconnect()
	}
	s.connected = true
	s.attempt = 0
	s.alerted = false
	s.stats.SetConnectionState(domain.Connected)
}
