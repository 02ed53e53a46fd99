package app

import (
	"context"
	"fmt"
	"io"

	"github.com/vasilkosturski/orderflow/internal/config"
	"github.com/vasilkosturski/orderflow/internal/platform/aws"
	"github.com/vasilkosturski/orderflow/internal/platform/observability"
	"github.com/vasilkosturski/orderflow/internal/platform/postgres"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Infrastructure holds the singletons both services share: configuration,
// logging, OpenTelemetry providers and everything that must be closed.
type Infrastructure struct {
	config         *config.Config
	serviceName    string
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	otelShutdown   observability.ShutdownFunc
	awsConfig      *sdkaws.Config
	closers        []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func NewInfrastructure(ctx context.Context, serviceName string) (*Infrastructure, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewBootstrapLogger()
	if err != nil {
		return nil, err
	}

	infra := &Infrastructure{
		config:         cfg,
		serviceName:    serviceName,
		logger:         logger,
		tracerProvider: otel.GetTracerProvider(),
	}

	if cfg.OtelEnabled {
		infra.setupObservability(ctx)
	} else {
		observability.SetupPropagator()
		infra.logger.Info("OpenTelemetry export disabled")
	}
	return infra, nil
}

// setupObservability configures OpenTelemetry logging, tracing and metrics.
// Export failures are not fatal; the service keeps running on the console logger.
func (infra *Infrastructure) setupObservability(ctx context.Context) {
	logShutdown, err := observability.SetupLoggingSDK(ctx, infra.config, infra.serviceName)
	if err != nil {
		infra.logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}

	tp, traceShutdown, err := observability.SetupTracingSDK(ctx, infra.config, infra.serviceName)
	if err != nil {
		infra.logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	} else {
		infra.tracerProvider = tp
	}

	metricShutdown, err := observability.SetupMetricsSDK(ctx, infra.config, infra.serviceName)
	if err != nil {
		infra.logger.Error("Failed to setup OpenTelemetry metrics", zap.Error(err))
	}

	infra.otelShutdown = observability.JoinShutdown(traceShutdown, metricShutdown, logShutdown)

	infra.logger = observability.NewOTelLogger(infra.serviceName)
	infra.logger.Info("Logger re-initialized with OpenTelemetry bridge")
}

func (infra *Infrastructure) Logger() *zap.Logger { return infra.logger }

func (infra *Infrastructure) Tracer() observability.Tracer {
	return infra.tracerProvider.Tracer(infra.serviceName)
}

// addCloser registers a resource to close on shutdown, in reverse order.
func (infra *Infrastructure) addCloser(name string, c io.Closer) {
	infra.closers = append(infra.closers, namedCloser{name: name, close: c.Close})
}

func (infra *Infrastructure) loadAWS(ctx context.Context) (sdkaws.Config, error) {
	if infra.awsConfig != nil {
		return *infra.awsConfig, nil
	}
	awsCfg, err := aws.LoadConfig(ctx, infra.config.AWS)
	if err != nil {
		return sdkaws.Config{}, err
	}
	infra.awsConfig = &awsCfg
	return awsCfg, nil
}

// postgresDSN prefers POSTGRES_DSN and falls back to a Secrets Manager secret.
func (infra *Infrastructure) postgresDSN(ctx context.Context) (string, error) {
	if err := infra.config.RequirePostgres(); err != nil {
		return "", err
	}
	if infra.config.PostgresDSN != "" {
		return infra.config.PostgresDSN, nil
	}

	awsCfg, err := infra.loadAWS(ctx)
	if err != nil {
		return "", err
	}
	dsn, err := aws.NewSecretsClient(awsCfg, infra.config.AWS.Endpoint).GetSecret(ctx, infra.config.PostgresDSNSecret)
	if err != nil {
		return "", fmt.Errorf("failed to resolve postgres DSN: %w", err)
	}
	infra.logger.Info("🔐 Postgres DSN resolved from Secrets Manager", zap.String("secret", infra.config.PostgresDSNSecret))
	return dsn, nil
}

func (infra *Infrastructure) connectPostgres(ctx context.Context, models ...any) (*gorm.DB, error) {
	dsn, err := infra.postgresDSN(ctx)
	if err != nil {
		return nil, err
	}
	db, err := postgres.Connect(ctx, dsn, infra.logger, models...)
	if err != nil {
		return nil, err
	}
	infra.closers = append(infra.closers, namedCloser{name: "postgres", close: func() error { return postgres.Close(db) }})
	return db, nil
}

// Shutdown closes registered resources, then flushes OpenTelemetry.
func (infra *Infrastructure) Shutdown(ctx context.Context) {
	infra.logger.Info("Shutting down infrastructure...")

	failed := 0
	for i := len(infra.closers) - 1; i >= 0; i-- {
		c := infra.closers[i]
		if err := c.close(); err != nil {
			infra.logger.Error("Failed to close "+c.name, zap.Error(err))
			failed++
		}
	}

	if infra.otelShutdown != nil {
		if err := infra.otelShutdown(ctx); err != nil {
			infra.logger.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}

	infra.logger.Info("Infrastructure shutdown complete", zap.Int("close_errors", failed))

	if err := infra.logger.Sync(); err != nil {
		// Can't log this error since logger might be closed
		fmt.Printf("Failed to sync logger: %v\n", err)
	}
}
