package api

import (
	"context"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/swaggest/usecase"
	"github.com/swaggest/usecase/status"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/domain"
)

const statsRetrievedMessage = "Stats retrieved successfully"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	ServiceName     string `json:"service_name"`
	Timestamp       string `json:"timestamp"`
	ConnectionState string `json:"connection_state"`
	Receiver        string `json:"receiver"`
	Collector       string `json:"collector"`
	SenderID        string `json:"sender_id"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// GetStats returns the live stats snapshot in the dashboard envelope
func (api *API) GetStats() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *domain.StatsResponse) error {
		api.count(ctx, "dashboard_stats_requests", "stats API requests")

		snap := api.Services.GetStats().Snapshot()
		output.Success = true
		output.Data = &snap
		output.Message = statsRetrievedMessage
		return nil
	})

	u.SetTitle("Relay Statistics")
	u.SetDescription("Message totals, per-minute rate, uptime and memory usage")
	u.SetTags("Stats")
	u.SetExpectedErrors(status.Internal)

	return u
}

// HealthCheck returns a health check handler
func (api *API) HealthCheck() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *HealthResponse) error {
		cfg := api.Config
		snap := api.Services.GetStats().Snapshot()

		overallStatus := "healthy"
		if !api.Services.IsHealthy() {
			overallStatus = "degraded"
		}

		output.Status = overallStatus
		output.Version = cfg.App.Version
		output.ServiceName = cfg.App.Name
		output.Timestamp = time.Now().UTC().Format(time.RFC3339)
		output.ConnectionState = snap.ConnectionState
		output.Receiver = cfg.ReceiverAddress()
		output.Collector = cfg.Service.URL
		output.SenderID = config.MaskSensitiveValue(cfg.Service.UUID)
		output.UptimeSeconds = snap.UptimeSeconds

		log.Debugf("Health check completed: status=%s", overallStatus)
		return nil
	})

	u.SetTitle("Health Check")
	u.SetDescription("Report upstream connection state of the relay")
	u.SetTags("Health")

	return u
}
