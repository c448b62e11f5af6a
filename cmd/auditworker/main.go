package main

import (
	"context"
	"fmt"
	"os"

	"github.com/complyaudit/audit-core/internal/app"
)

func main() {
	ctx := context.Background()

	rt, err := app.NewRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize runtime: %v\n", err)
		os.Exit(1)
	}

	if err := rt.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start runtime: %v\n", err)
		os.Exit(1)
	}

	app.WaitForShutdown()

	if err := rt.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		os.Exit(1)
	}
}
