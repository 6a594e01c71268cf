// Package main запускает storectl, консольный клиент движка витрины.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmeshcher/storefront-sync/internal/api"
	"github.com/mmeshcher/storefront-sync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(nil).ExecuteContext(ctx); err != nil {
		msg := err.Error()
		if errors.Is(err, api.ErrRejected) || errors.Is(err, api.ErrTransport) {
			msg = api.UserMessage(err)
		}
		fmt.Fprintln(os.Stderr, "storectl:", msg)
		stop()
		os.Exit(1)
	}
}
