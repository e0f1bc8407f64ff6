package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/honeynil/AuthSessionService/internal/config"
	"github.com/honeynil/AuthSessionService/internal/infrastructure/observability"
)

// Setup initializes logging, metrics and tracing and returns a shutdown func
// that stops the metrics server and flushes spans.
func Setup(serviceName string, cfg *config.Config) func(context.Context) error {
	observability.InitLogger(cfg.LogLevel)
	metricsServer := observability.InitMetrics(cfg.MetricsAddr)
	tracerShutdown := observability.InitTracing(serviceName, cfg.OTLPEndpoint)

	return func(ctx context.Context) error {
		var errs []error
		if err := metricsServer.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
			errs = append(errs, err)
		}
		if err := tracerShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}
