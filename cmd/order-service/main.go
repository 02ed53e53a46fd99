package main

import (
	"context"
	stdlog "log"

	"github.com/vasilkosturski/orderflow/internal/app"
)

func main() {
	if err := run(); err != nil {
		stdlog.Fatalf("Application failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	application, err := app.NewApplication(ctx, app.NewOrderContainer)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Run()
}
