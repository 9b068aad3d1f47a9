package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/KungFuJesus/ntetris/internal/config"
	"github.com/KungFuJesus/ntetris/internal/console"
	"github.com/KungFuJesus/ntetris/internal/metrics"
	"github.com/KungFuJesus/ntetris/internal/player"
	"github.com/KungFuJesus/ntetris/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	serviceName       = "ntetris-server"
	serviceVersion    = "1.0.0"

	eventBufferSize = 256
	shutdownTimeout = 10 * time.Second
)

// options holds the command line flags
type options struct {
	configPath   string
	envFile      string
	port         int
	randomSource string
	httpPort     int
	noConsole    bool
}

func main() {
	if err := newRootCmd(&options{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "UDP session server for multiplayer tetrad games",
		Long: `ntetris-server registers players over UDP, tracks their lifecycle,
answers keepalives and evicts clients that stop sending them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       serviceVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file")
	flags.StringVar(&opts.envFile, "env-file", defaultEnvFile, "Path to a .env file with NTETRIS_* overrides")
	flags.IntVarP(&opts.port, "port", "p", 0, "UDP port to listen on")
	flags.StringVarP(&opts.randomSource, "random", "r", "", "Entropy file used to generate player ids")
	flags.IntVar(&opts.httpPort, "http-port", 0, "Port of the HTTP monitoring API")
	flags.BoolVar(&opts.noConsole, "no-console", false, "Disable the operator console on stdin")

	return cmd
}

// loadConfig layers the config file, the environment and the changed flags
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}

	path := opts.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.UDPPort = opts.port
	}
	if flags.Changed("random") {
		cfg.Server.RandomSource = opts.randomSource
	}
	if flags.Changed("http-port") {
		cfg.HTTP.Port = opts.httpPort
	}
	if flags.Changed("no-console") {
		cfg.Console.Enabled = !opts.noConsole
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command line: %w", err)
	}

	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", opts.configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("workers", cfg.Server.Workers),
		slog.Int("queue_size", cfg.Server.QueueSize),
		slog.String("random_source", cfg.Server.RandomSource),
		slog.Duration("sweep_interval", cfg.Keepalive.GetSweepInterval()),
		slog.Int("keepalive_budget", cfg.Keepalive.Budget),
		slog.Duration("client_interval", cfg.Keepalive.GetClientInterval()),
		slog.Int("tolerated_misses", cfg.Keepalive.ToleratedMisses()),
		slog.String("log_level", cfg.Logging.Level),
	)

	var tracing *tracerProvider
	if cfg.Tracing.Enabled {
		tracing, err = initTracer(cfg.Tracing)
		if err != nil {
			return err
		}
		otel.SetTracerProvider(tracing)
		logger.Info("Tracing enabled",
			slog.String("output", cfg.Tracing.Output),
			slog.Float64("sample_ratio", cfg.Tracing.SampleRatio),
		)
	}

	ids, err := player.OpenIDSource(cfg.Server.RandomSource)
	if err != nil {
		return err
	}
	defer ids.Close()

	registry := player.NewRegistry(logger, ids, cfg.Keepalive.Budget)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	events := server.NewEventHub(logger, appMetrics, eventBufferSize)

	udpServer := server.NewUDPServer(&cfg.Server, logger, registry, appMetrics, events)
	sweeper := server.NewSweeper(udpServer, cfg.Keepalive.GetSweepInterval(), logger)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, registry, udpServer,
			appMetrics, events, prometheus.DefaultGatherer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := udpServer.Start(); err != nil {
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			udpServer.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		events.Run(gctx)
		return nil
	})

	sweeper.Start(gctx)

	if cfg.Console.Enabled {
		g.Go(func() error {
			c := console.New(udpServer, os.Stdin, os.Stdout, cfg.Console.Prompt, logger)
			if err := c.Run(gctx); err != nil {
				logger.Warn("Console stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.LocalAddr().String()),
	)

	<-gctx.Done()
	logger.Info("Starting graceful shutdown...")

	sweeper.Stop()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	if err := g.Wait(); err != nil {
		logger.Error("Background task failed", slog.String("error", err.Error()))
	}

	if tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error flushing traces", slog.String("error", err.Error()))
		}
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("validation_errors", stats.ValidationErrors),
		slog.Uint64("players_kicked", stats.PlayersKicked),
		slog.Uint64("players_expired", stats.PlayersExpired),
		slog.Uint64("active_players", stats.ActivePlayers),
	)

	logger.Info("Service stopped")
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
