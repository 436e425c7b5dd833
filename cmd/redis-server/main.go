package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/faizanhussain2310/resp-kv/internal/config"
	"github.com/faizanhussain2310/resp-kv/internal/logging"
	"github.com/faizanhussain2310/resp-kv/internal/server"
)

func main() {
	cfg, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if lvl, ok := cfg.Get("loglevel"); ok && len(lvl) == 1 {
		logging.SetLevel(lvl[0])
	}

	srv, err := server.New(cfg)
	if err != nil {
		logging.L().Fatalf("failed to initialize server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.L().Info("shutting down")
		cancel()
		srv.Shutdown()
	}()

	logging.L().Infof("starting on port %s", cfg.Port)
	if err := srv.Start(ctx); err != nil {
		logging.L().Fatalf("server failed: %v", err)
	}
}
