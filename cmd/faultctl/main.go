// Faultctl is the operator CLI for a faultline server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/linnemanlabs/faultline/internal/ctl"
)

func main() {
	// a missing .env is fine; existing env vars are never overridden
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := ctl.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ctl.GetExitCode(err))
	}
}
