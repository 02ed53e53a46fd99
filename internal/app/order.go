package app

import (
	"context"
	"fmt"

	"github.com/vasilkosturski/orderflow/internal/config"
	"github.com/vasilkosturski/orderflow/internal/order"
	"github.com/vasilkosturski/orderflow/internal/platform/httpx"
	"github.com/vasilkosturski/orderflow/internal/platform/kafka"
	"github.com/vasilkosturski/orderflow/internal/platform/redis"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrderContainer wires admission, the lifecycle API, the rejection consumer
// and the reconciler.
type OrderContainer struct {
	*Infrastructure
	service           *order.Service
	rejectionConsumer *order.RejectionConsumer
	reconciler        *order.Reconciler
	server            *httpx.Server
}

func NewOrderContainer(ctx context.Context) (Container, error) {
	infra, err := NewInfrastructure(ctx, config.OrderServiceName)
	if err != nil {
		return nil, err
	}
	c := &OrderContainer{Infrastructure: infra}
	if err := c.build(ctx); err != nil {
		infra.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *OrderContainer) build(ctx context.Context) error {
	cfg := c.config

	db, err := c.connectPostgres(ctx, &order.Order{})
	if err != nil {
		return err
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisURL, c.logger)
	if err != nil {
		return err
	}
	c.addCloser("redis", redisClient)

	producer, err := kafka.NewProducer(cfg.KafkaBroker, config.OrderEventsTopic, config.OrderServiceName, c.tracerProvider)
	if err != nil {
		return fmt.Errorf("failed to create order events producer: %w", err)
	}
	c.addCloser("order events producer", producer)

	rejections, err := kafka.NewConsumer(cfg.KafkaBroker, config.RejectionsTopic, config.OrderGroupID)
	if err != nil {
		return fmt.Errorf("failed to create rejections consumer: %w", err)
	}
	c.addCloser("rejections consumer", rejections)

	repo := order.NewGormRepository(db)
	publisher := order.NewKafkaPublisher(producer)
	c.service = order.NewService(
		repo,
		order.NewRedisIdempotencyCache(redisClient, config.IdempotencyKeyPrefix, cfg.Order.IdempotencyTTL),
		publisher,
		c.logger,
		order.WithFailClosed(cfg.Order.IdempotencyFailClosed),
		order.WithTracer(c.Tracer()),
	)
	c.rejectionConsumer = order.NewRejectionConsumer(rejections, c.service, c.logger)
	if cfg.Order.ReconcileEnabled {
		c.reconciler = order.NewReconciler(repo, publisher, c.logger,
			cfg.Order.ReconcileInterval, cfg.Order.ReconcileMinAge, cfg.Order.ReconcileMaxAge)
	}

	router := httpx.NewRouter(c.logger)
	order.NewHandler(c.service).RegisterRoutes(router)
	registerHealth(router)
	c.server = httpx.NewServer(cfg.Order.HTTPAddr, config.OrderServiceName, router, c.logger)

	c.logger.Info("Order service wired",
		zap.String("http_addr", cfg.Order.HTTPAddr),
		zap.Bool("idempotency_fail_closed", cfg.Order.IdempotencyFailClosed),
		zap.Bool("reconciler", cfg.Order.ReconcileEnabled),
	)
	return nil
}

func (c *OrderContainer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.server.Run(ctx) })
	g.Go(func() error { return c.rejectionConsumer.Start(ctx) })
	if c.reconciler != nil {
		g.Go(func() error { return c.reconciler.Run(ctx) })
	}
	return g.Wait()
}
