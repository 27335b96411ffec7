package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/auctionlens/itemtrack/internal/catalog"
	"github.com/auctionlens/itemtrack/internal/config"
	"github.com/auctionlens/itemtrack/internal/store"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
}

// refreshCmd runs the catalog jobs once, outside the serve scheduler.
// Useful for seeding a fresh database.
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the upstream item catalog and bazaar listing once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Refresh.ItemsURL == "" && cfg.Refresh.BazaarURL == "" {
			return errors.New("no refresh URLs configured")
		}
		lg, err := cfg.Logger()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = lg.Sync() }()

		st, err := store.Open(cfg.DBPath, lg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		r := catalog.NewRefresher(st, cfg.Refresh.ItemsURL, cfg.Refresh.BazaarURL, cfg.Refresh.IconBaseURL, lg)
		ctx := cmd.Context()
		if cfg.Refresh.ItemsURL != "" {
			if err := r.RefreshItems(ctx); err != nil {
				return err
			}
		}
		if cfg.Refresh.BazaarURL != "" {
			if err := r.RefreshBazaar(ctx); err != nil {
				return err
			}
		}
		return nil
	},
}
