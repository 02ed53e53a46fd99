package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Container owns the resources of one service process.
type Container interface {
	Logger() *zap.Logger
	Run(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// ContainerFactory builds a Container. NewOrderContainer and
// NewInventoryContainer are the two implementations.
type ContainerFactory func(ctx context.Context) (Container, error)

// Application holds all the components and manages the application lifecycle
type Application struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container Container
}

// NewApplication creates and fully initializes a new Application instance
func NewApplication(ctx context.Context, newContainer ContainerFactory) (*Application, error) {
	appCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	app := &Application{
		ctx:    appCtx,
		cancel: cancel,
	}

	container, err := newContainer(app.ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	app.container = container

	app.container.Logger().Info("Application initialized successfully")
	return app, nil
}

// Run blocks until a signal arrives or a component fails.
func (app *Application) Run() error {
	return app.container.Run(app.ctx)
}

// Shutdown gracefully shuts down all application components
func (app *Application) Shutdown() {
	if app.container != nil {
		app.container.Logger().Info("Starting application shutdown...")
	}

	if app.cancel != nil {
		app.cancel()
	}

	if app.container != nil {
		app.container.Shutdown(context.Background())
	}
}
