package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/domain"
)

const (
	METER = "sbs-relay"
)

// Services holds all service instances and shared state
type Services struct {
	Config    *config.Config
	OtelMeter metric.Meter
	Stats     *StatsAggregator
	Forwarder *HTTPForwarder
}

// NewServices wires the shared aggregator into the forwarder. Call after the
// global meter provider is installed so counters bind to it.
func NewServices(cfg *config.Config) *Services {
	meter := otel.Meter(METER)
	stats := NewStatsAggregator(meter)

	return &Services{
		Config:    cfg,
		OtelMeter: meter,
		Stats:     stats,
		Forwarder: NewHTTPForwarder(cfg, stats),
	}
}

// IsHealthy reports whether the upstream connection is currently live
func (s *Services) IsHealthy() bool {
	return s.Stats.Snapshot().ConnectionState == domain.Connected.String()
}

// GetStats returns current relay statistics
func (s *Services) GetStats() *StatsAggregator {
	return s.Stats
}
