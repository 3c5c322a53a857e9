// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/pilot-cli/cmd"
)

// main is the entry point for the pilot CLI application.
func main() {
	// Ctrl-C cancels the in-flight goal and triggers a clean browser
	// shutdown instead of killing the process outright.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
