// Package observability wires logging, metrics, and tracing.
package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/flowvane/creditdesk/internal/config"
	"github.com/flowvane/creditdesk/internal/observability/logger"
	"github.com/flowvane/creditdesk/internal/observability/metrics"
	"github.com/flowvane/creditdesk/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		metrics.Default,
		metrics.DefaultHTTP,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideLoggerConfig(cfg config.Config) logger.Config {
	level := strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info")))
	return logger.Config{
		ServiceName:         cfg.AppName,
		Environment:         cfg.Environment,
		Version:             cfg.AppVersion,
		Level:               level,
		Format:              strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		IncludeCaller:       true,
		IncludeStackOnError: level == "debug",
	}
}

func provideTracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.TracingEnabled,
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OTLPEndpoint,
		SamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
