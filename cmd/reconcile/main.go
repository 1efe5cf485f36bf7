// Command reconcile settles card orders whose payment webhook never arrived and inspects orders
// from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/di"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/config"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/observability"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/secrets"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Reconcile pending card payments against the payment provider",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file with local overrides")

	root.AddCommand(sweepCmd())
	root.AddCommand(showCmd())
	return root
}

// session is the opened runtime shared by subcommands.
type session struct {
	logger    *zap.Logger
	container *di.Container
	fetcher   *secrets.Fetcher
}

func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	envFile, _ := cmd.Flags().GetString("env-file")

	logger, err := observability.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("initialise logger: %w", err)
	}
	logger = logger.Named("reconcile")

	lookup := func(key string) string {
		value, _ := config.Lookup(key, config.WithEnvFile(envFile))
		return value
	}
	fetcherOpts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project := lookup("API_SECURITY_SECRETS_PROJECT_ID"); project != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithProject(project))
	}
	fetcher, err := secrets.NewFetcher(ctx, fetcherOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx,
		config.WithEnvFile(envFile),
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	if err != nil {
		_ = fetcher.Close()
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, logger, services.BuildInfo{
		Version:     Version,
		Environment: cfg.Security.Environment,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		_ = fetcher.Close()
		return nil, fmt.Errorf("initialise dependencies: %w", err)
	}
	return &session{logger: logger, container: container, fetcher: fetcher}, nil
}

func (s *session) Close() error {
	s.container.Drain()
	err := errors.Join(s.container.Close(), s.fetcher.Close())
	_ = s.logger.Sync()
	return err
}
