package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/config"
	"github.com/farellandr/quariarbox/internal/server"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "quariarbox",
		Short:         "QuariarBox courier payments service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(receiptsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, wires the services and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, app *server.App) error) error {
	// A missing .env is fine; the environment may be set by the runtime.
	_ = godotenv.Load(".env")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Error closing application resources", zap.Error(err))
		}
	}()

	return fn(ctx, app)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the outbox processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(server.Start)
		},
	}
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and deliver queued side effects",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Deliver every due outbox message once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *server.App) error {
				n, err := app.Outbox.Drain(ctx)
				if err != nil {
					return fmt.Errorf("drain outbox: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d messages\n", n)
				return nil
			})
		},
	})
	return cmd
}

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Manage receipt documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "render [receipt-number]",
		Short: "Render the document of a receipt if it has not been rendered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *server.App) error {
				receipt, err := app.Receipts.Render(ctx, args[0])
				if err != nil {
					return fmt.Errorf("render receipt %s: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), receipt.DocumentPath)
				return nil
			})
		},
	})
	return cmd
}
