package app

import (
	"context"
	"fmt"

	"github.com/vasilkosturski/orderflow/internal/config"
	"github.com/vasilkosturski/orderflow/internal/inventory"
	"github.com/vasilkosturski/orderflow/internal/platform/aws"
	"github.com/vasilkosturski/orderflow/internal/platform/httpx"
	"github.com/vasilkosturski/orderflow/internal/platform/kafka"
	"github.com/vasilkosturski/orderflow/internal/platform/redis"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// InventoryContainer wires the ledger, the dedup guard, the order events
// consumers and the inventory API.
type InventoryContainer struct {
	*Infrastructure
	service   *inventory.Service
	consumers []*inventory.ConsumerService
	server    *httpx.Server
}

func NewInventoryContainer(ctx context.Context) (Container, error) {
	infra, err := NewInfrastructure(ctx, config.InventoryServiceName)
	if err != nil {
		return nil, err
	}
	c := &InventoryContainer{Infrastructure: infra}
	if err := c.build(ctx); err != nil {
		infra.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *InventoryContainer) build(ctx context.Context) error {
	cfg := c.config

	ledger, err := c.newLedger(ctx)
	if err != nil {
		return err
	}
	guard, err := c.newGuard(ctx)
	if err != nil {
		return err
	}

	rejections, err := kafka.NewProducer(cfg.KafkaBroker, config.RejectionsTopic, config.InventoryServiceName, c.tracerProvider)
	if err != nil {
		return fmt.Errorf("failed to create rejections producer: %w", err)
	}
	c.addCloser("rejections producer", rejections)

	deadLetter, err := kafka.NewProducer(cfg.KafkaBroker, config.DeadLetterTopic, config.InventoryServiceName, c.tracerProvider)
	if err != nil {
		return fmt.Errorf("failed to create dead-letter producer: %w", err)
	}
	c.addCloser("dead-letter producer", deadLetter)

	c.service = inventory.NewService(ledger, guard, c.logger,
		inventory.WithMaxAttempts(cfg.Inventory.MaxAttempts),
		inventory.WithTracer(c.Tracer()),
	)
	handler := inventory.NewMessageHandler(c.service, rejections, deadLetter, c.logger)

	// each worker joins the same group, so partitions are spread across them
	for i := 0; i < cfg.Inventory.ConsumerWorkers; i++ {
		reader := kafka.NewCommittingConsumer(cfg.KafkaBroker, config.OrderEventsTopic, config.InventoryGroupID)
		c.addCloser(fmt.Sprintf("order events consumer %d", i), reader)
		worker := c.logger.With(zap.Int("worker", i))
		c.consumers = append(c.consumers, inventory.NewConsumerService(reader, handler, worker))
	}

	router := httpx.NewRouter(c.logger)
	inventory.NewHandler(c.service, cfg.Inventory.LowStockThreshold).RegisterRoutes(router)
	registerHealth(router)
	c.server = httpx.NewServer(cfg.Inventory.HTTPAddr, config.InventoryServiceName, router, c.logger)

	c.logger.Info("Inventory service wired",
		zap.String("ledger", cfg.Inventory.LedgerBackend),
		zap.String("dedup", cfg.Inventory.DedupBackend),
		zap.Int("workers", cfg.Inventory.ConsumerWorkers),
		zap.Uint64("max_attempts", cfg.Inventory.MaxAttempts),
	)
	return nil
}

func (c *InventoryContainer) newLedger(ctx context.Context) (inventory.Ledger, error) {
	switch c.config.Inventory.LedgerBackend {
	case config.LedgerDynamoDB:
		awsCfg, err := c.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		client := aws.NewDynamoClient(awsCfg, c.config.AWS.Endpoint)
		return inventory.NewDynamoLedger(client, c.config.Inventory.DynamoTable), nil
	default:
		db, err := c.connectPostgres(ctx, &inventory.Inventory{})
		if err != nil {
			return nil, err
		}
		return inventory.NewGormLedger(db), nil
	}
}

func (c *InventoryContainer) newGuard(ctx context.Context) (inventory.Guard, error) {
	cfg := c.config.Inventory
	if cfg.DedupBackend == config.DedupMemory {
		c.logger.Warn("⚠️ Using in-process dedup guard, replay protection is lost on restart",
			zap.Int("capacity", cfg.DedupCapacity),
			zap.Duration("ttl", cfg.DedupTTL),
		)
		return inventory.NewMemoryGuard(cfg.DedupCapacity, cfg.DedupTTL), nil
	}

	client, err := redis.NewClient(ctx, c.config.RedisURL, c.logger)
	if err != nil {
		return nil, err
	}
	c.addCloser("redis", client)
	return inventory.NewRedisGuard(client, config.ProcessedKeyPrefix, cfg.DedupTTL), nil
}

func (c *InventoryContainer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.server.Run(ctx) })
	for _, consumer := range c.consumers {
		g.Go(func() error { return consumer.Start(ctx) })
	}
	return g.Wait()
}
