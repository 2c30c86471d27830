// Command scanctl submits and follows scans against a running scan service.
// Usage: scanctl [flags] <submit|watch|status|cancel|list|me> [argument]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Vicaadrn/web-scanner-project/internal/cli"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

func main() {
	args, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, cli.Usage())
		os.Exit(2)
	}
	args.ApplyEnv(os.Getenv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(os.Stderr, logging.LevelWarn, "scanctl")
	if err := cli.Run(ctx, args, os.Stdout, logger); err != nil {
		var quotaErr *model.QuotaExceededError
		switch {
		case errors.As(err, &quotaErr):
			// Already reported through the AuthRequired observer.
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(os.Stderr, "interrupted; the scan keeps running on the service")
		default:
			fmt.Fprintf(os.Stderr, "scanctl: %v\n", err)
		}
		os.Exit(1)
	}
}
