package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/internal/config"
	"github.com/auctionlens/itemtrack/internal/ingest"
	"github.com/auctionlens/itemtrack/internal/server"
	"github.com/auctionlens/itemtrack/internal/service"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking service: batch consumer, HTTP API and scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		lg, err := cfg.Logger()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = lg.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := service.New(cfg, lg)
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		if err := svc.Run(ctx); err != nil {
			return err
		}

		src := ingest.NewFileSource(cfg.WatchDir, cfg.Tracking.BatchSize, 5*time.Second, lg)
		go func() {
			if err := svc.Consume(ctx, src); err != nil && ctx.Err() == nil {
				lg.Error("batch consumer stopped", zap.Error(err))
			}
		}()

		srv := server.New(svc.Store(), svc.Cache(), lg)
		return srv.ListenAndServe(ctx, cfg.HTTPAddr)
	},
}
