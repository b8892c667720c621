package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/jarvis/pkg/jarvis/channels/discord"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
	"github.com/jholhewres/jarvis/pkg/jarvis/gateway"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// newServeCmd creates the `jarvis serve` command that runs the daemon.
func newServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant daemon",
		Long: `Start Jarvis as a long-running service: the scheduler, the HTTP and
WebSocket gateway, the Discord bot when configured, and a config watcher
that hot-reloads intent rules and voice settings.

Examples:
  jarvis serve
  jarvis serve --addr 0.0.0.0:8085
  jarvis serve --listen`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().String("addr", "", "gateway listen address (overrides gateway.address)")
	cmd.Flags().Bool("no-gateway", false, "do not start the HTTP gateway")
	cmd.Flags().Bool("listen", false, "also run the wake-word listener on stdin")
	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	a, configPath, logger, err := buildAssistant(cmd, version, false)
	if err != nil {
		return err
	}
	cfg := a.Config()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(shutdownTimeout)
		return err
	}

	// ── Gateway ──
	var gw *gateway.Gateway
	noGateway, _ := cmd.Flags().GetBool("no-gateway")
	if cfg.Gateway.Enabled && !noGateway {
		gwCfg := cfg.Gateway
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			gwCfg.Address = addr
		}
		gw = gateway.New(a, gwCfg, logger)
		if err := gw.Start(ctx); err != nil {
			_ = a.Stop(shutdownTimeout)
			return err
		}
	}

	// ── Discord ──
	var bot *discord.Bot
	if cfg.Discord.Enabled {
		bot = discord.New(cfg.Discord, a, logger)
		if err := bot.Connect(ctx); err != nil {
			logger.Error("failed to connect Discord", "error", err)
			bot = nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// ── Config hot reload ──
	if configPath != "" {
		watcher := config.NewConfigWatcher(configPath, config.DefaultDebounce, a.ApplyConfigUpdate, logger)
		g.Go(func() error { return watcher.Start(gctx) })
		logger.Info("config watcher started", "path", configPath)
	}

	if listen, _ := cmd.Flags().GetBool("listen"); listen {
		l := a.NewListener(os.Stdin, func(_, reply string) { fmt.Println(reply) })
		g.Go(func() error { return l.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("Jarvis running. Press Ctrl+C to stop.", "name", cfg.Name, "version", version)
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("service error, shutting down", "error", runErr)
	} else {
		runErr = nil
		logger.Info("shutdown signal received, stopping...")
	}

	// Graceful shutdown: transports first so no new commands arrive, then
	// the assistant drains its scheduler and bridge.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if gw != nil {
		if err := gw.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("gateway: %w", err))
		}
	}
	if bot != nil {
		if err := bot.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("discord: %w", err))
		}
	}
	if err := a.Stop(shutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("shutdown finished with errors", "error", err)
	}
	logger.Info("Jarvis stopped")
	return runErr
}
