package main

import (
	"context"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/logging"
)

// InitOtelProvider installs the global meter provider before services are
// built, so the relay_* counters of the stats aggregator (messages, bytes
// received and dropped, batches forwarded, forward errors, reconnects) and the
// dashboard request counters are pushed to otel.endpoint over insecure
// OTLP/gRPC every otel.scrapeIntervalseconds. The resource is tagged with
// otel.service_name and app.version. The returned func flushes and stops the
// exporter; it is a no-op when the exporter could not be created.
func InitOtelProvider(conf *config.Config) func() {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(conf.Otel.ServiceName),
			semconv.ServiceVersionKey.String(conf.App.Version),
		),
	)
	if err != nil {
		// partial resources are still usable
		log.Warnf("Incomplete otel resource for %s: %v", conf.Otel.ServiceName, err)
	}

	exporter, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(conf.Otel.Endpoint),
	)
	if err != nil {
		log.Errorf("Relay metrics disabled, cannot create OTLP exporter for %s: %v", conf.Otel.Endpoint, err)
		return func() {}
	}

	interval := time.Duration(conf.Otel.ScrapeIntervalSeconds) * time.Second
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)
	logging.Infof("Exporting relay metrics to %s every %s", conf.Otel.Endpoint, interval)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		// pushes the final counter values to the collector
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Errorf("failed to push last relay metrics: %v", err)
		}
	}
}
