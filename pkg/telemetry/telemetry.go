// Package telemetry provides a standardized, one-stop-shop for setting up
// OpenTelemetry metrics for hashcore, exported through a Prometheus
// registry.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// Config holds all the configuration for the telemetry system.
type Config struct {
	// Enabled toggles metrics collection on or off.
	Enabled bool `yaml:"enabled"`
	// ServiceName identifies this process in exported metric resource labels.
	ServiceName string `yaml:"service_name"`
	// PrometheusPort is the port on which to expose the /metrics endpoint.
	// Zero disables the HTTP listener; the meter still works for in-process
	// readers (e.g. tests) in that case.
	PrometheusPort int `yaml:"prometheus_port"`
}

// Telemetry represents the active OpenTelemetry metrics components.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
}

// ShutdownFunc gracefully shuts down the telemetry providers.
type ShutdownFunc func(ctx context.Context) error

// New initializes the OpenTelemetry SDK for metrics with a Prometheus
// exporter. When config.Enabled is false it returns a no-op meter so that
// callers never need to nil-check Telemetry.Meter.
func New(config Config) (*Telemetry, ShutdownFunc, error) {
	if !config.Enabled {
		return &Telemetry{
			MeterProvider: nil,
			Meter:         noop.NewMeterProvider().Meter(""),
		}, func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	meter := mp.Meter("github.com/relaydb/hashcore")

	var httpServer *http.Server
	if config.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", config.PrometheusPort),
			Handler: mux,
		}
		go func() {
			_ = httpServer.ListenAndServe()
		}()
	}

	shutdown := func(ctx context.Context) error {
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}
		return mp.Shutdown(ctx)
	}

	return &Telemetry{MeterProvider: mp, Meter: meter}, shutdown, nil
}

// Noop returns a Telemetry backed by a no-op meter, for callers (tests,
// library embedders) that don't want to stand up a Prometheus exporter.
func Noop() *Telemetry {
	return &Telemetry{Meter: noop.NewMeterProvider().Meter("")}
}
