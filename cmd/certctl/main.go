package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"certificate-portal/certificate-backend/cmd/certctl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.New().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
