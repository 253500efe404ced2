package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/taped/internal/config"
	"github.com/JakeFAU/taped/internal/logging"
	"github.com/JakeFAU/taped/internal/server"
)

// annotationNeedsApp marks subcommands that require the full service graph.
const annotationNeedsApp = "taped/needs-app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Run(ctx context.Context) error
	Crawl(ctx context.Context) (int, error)
	Close() error
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

type runtimeKey struct{}

// runtime carries what PersistentPreRunE resolved to the subcommands.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	app    App
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "taped",
		Short: "Cassette catalog crawler and playback service.",
		Long: `taped crawls the cassette blog into a catalog of playable playlists,
serves it over HTTP and drives a single local player process.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			rt := &runtime{cfg: &cfg, logger: logger}
			if cmd.Annotations[annotationNeedsApp] == "true" {
				rt.app, err = newApp(cmd.Context(), &cfg, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			return nil
		},

		// Shuts services down once the subcommand returns.
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime)
			if !ok {
				return nil
			}
			if rt.app != nil {
				return rt.app.Close()
			}
			_ = rt.logger.Sync()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./config.yaml, /etc/taped, $HOME/.taped)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newNormalizeCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

func resolveApp(ctx context.Context) (App, error) {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return nil, err
	}
	if rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt.app, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
