// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/suture-cli/cmd"
)

// main is the entry point for the suture CLI.
func main() {
	// A signal-aware context lets the watch loop finish its in-flight cycle
	// and persist state before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			// Graceful shutdown initiated by the user.
			os.Exit(0)
		}
		os.Exit(1)
	}
}
