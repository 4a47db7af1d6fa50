// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/caliper-cli/cmd"
	"github.com/xkilldash9x/caliper-cli/internal/observability"
)

// main is the entry point for the caliper CLI.
func main() {
	// SIGINT and SIGTERM cancel the run context so an interrupted batch can
	// still tear down the browser and report its partial result.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Execute(ctx)

	stop()
	observability.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
