package main

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"payrecon/internal/common/cache"
	"payrecon/internal/common/database"
	"payrecon/internal/common/events"
	"payrecon/internal/common/nats"
	"payrecon/internal/ledger"
	ledgerstore "payrecon/internal/ledger/store"
	"payrecon/internal/providers/stripe"
	"payrecon/internal/risk"
	"payrecon/internal/webhook"
)

func migrateCmd(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(logger())
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Up()
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(logger())
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Down(steps)
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func migrator(logger *slog.Logger) (*database.Migrator, error) {
	var cfg database.Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading database config: %w", err)
	}
	return database.NewMigrator(cfg.URL, logger)
}

func replayCmd(logger func() *slog.Logger) *cobra.Command {
	var noEvents bool
	cmd := &cobra.Command{
		Use:   "replay-webhooks",
		Short: "Re-dispatch stored gateway webhooks that did not complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger()

			var cfg struct {
				Database database.Config
				NATS     nats.Config
				Webhook  webhook.Config
				Stripe   stripe.Config
			}
			if err := envconfig.Process("", &cfg); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := database.New(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			var publisher events.EventPublisher
			if !noEvents {
				nc, err := nats.New(ctx, cfg.NATS, log)
				if err != nil {
					return err
				}
				defer nc.Close()
				publisher = nats.NewPublisher(nc, log)
			}

			verifier, err := webhook.NewVerifier(cfg.Webhook)
			if err != nil {
				return err
			}
			store := webhook.NewPostgresStore(db)
			mutator := ledger.NewMutator(ledgerstore.New(db), log)
			gateway := webhook.NewGateway(verifier, store, webhook.NewDispatcher(mutator, log),
				publisher, cfg.Webhook.ProcessTimeout, log)
			if cfg.Stripe.WebhookSecret != "" {
				src, err := stripe.NewWebhookSource(cfg.Stripe.WebhookSecret)
				if err != nil {
					return err
				}
				gateway.Register(src)
			}

			n, err := webhook.NewReplayer(store, gateway, cfg.Webhook, log).ReplayOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d webhook events\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noEvents, "no-events", false, "do not publish failure events to NATS")
	return cmd
}

func riskSweepCmd(logger func() *slog.Logger) *cobra.Command {
	var noLock bool
	cmd := &cobra.Command{
		Use:   "risk-sweep",
		Short: "Recompute every partner's risk score now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger()

			var cfg struct {
				Database database.Config
				Redis    cache.Config
				Risk     risk.Config
			}
			if err := envconfig.Process("", &cfg); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := database.New(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			var locker risk.Locker
			if !noLock {
				rc, err := cache.New(ctx, cfg.Redis, log)
				if err != nil {
					return err
				}
				defer rc.Close()
				locker = rc.Locker()
			}

			n, err := risk.NewSweeper(risk.NewPostgresStore(db), locker, cfg.Risk, log).SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scored %d partners\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the distributed lock")
	return cmd
}
