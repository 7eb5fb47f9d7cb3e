// ABOUTME: Standalone buffer negotiation probe
// ABOUTME: Reports which buffer sizes a device accepts for a format
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/Resonate-Protocol/trackbridge/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewProbeCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
