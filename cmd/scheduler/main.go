package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/approval"
	"github.com/synaptiq/scheduler/internal/config"
	"github.com/synaptiq/scheduler/internal/costmodel"
	"github.com/synaptiq/scheduler/internal/decision"
	"github.com/synaptiq/scheduler/internal/executor"
	"github.com/synaptiq/scheduler/internal/providers"
	"github.com/synaptiq/scheduler/internal/providers/anthropic"
	"github.com/synaptiq/scheduler/internal/providers/openai"
	"github.com/synaptiq/scheduler/internal/routing"
	"github.com/synaptiq/scheduler/internal/server"
)

// Application represents the main application
type Application struct {
	config *config.Config
	engine *routing.Engine
	server *server.Server
	logger *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	// Shared routing state: health windows and execution history feed
	// every subsequent decision.
	state := routing.NewState(cfg.Providers.BaselinePriors, logger)

	decisions := decision.NewEngine(cfg.Providers.Baselines, state.Health, state.History,
		cfg.Engine.LearningEnabled, logger)
	engine := routing.NewEngine(decisions, cfg.Engine.RoutingEnabled, logger)

	// Register live provider clients
	registry := providers.NewRegistry()
	registerProviders(registry, cfg, logger)

	issuer := approval.NewIssuer(cfg.Engine.TokenSecret, logger)

	// The executor re-estimates cost from the static baselines; learned
	// penalties only shape routing, not accounting.
	model := costmodel.New(cfg.Providers.Baselines, state.Health, nil, logger)
	exec := executor.NewAdapter(registry, model, state.Health, state.History, issuer, executor.Config{
		LiveEnabled: cfg.Engine.LiveProvidersEnabled,
		CallTimeout: cfg.Engine.CallTimeout,
	}, logger)

	// Create server
	serverInstance, err := server.NewServer(server.Deps{
		Engine:        engine,
		Issuer:        issuer,
		Executor:      exec,
		HealthTracker: state.Health,
		HistoryStore:  state.History,
		Baselines:     cfg.Providers.Baselines,
	}, cfg.ToServerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config: cfg,
		engine: engine,
		server: serverInstance,
		logger: logger,
	}, nil
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting provider scheduler")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	// Graceful shutdown
	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	// Set log level
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	// Set log format
	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	// Set output
	switch config.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// registerProviders registers all configured live clients. Running with
// none registered is fine: every execution falls back to the simulator.
func registerProviders(registry *providers.Registry, cfg *config.Config, logger *logrus.Logger) {
	registered := 0

	if cfg.Providers.OpenAI != nil && cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(openai.NewClient(cfg.Providers.OpenAI, logger))
		logger.WithField("provider", "openai").Info("OpenAI live client registered")
		registered++
	}

	if cfg.Providers.Anthropic != nil && cfg.Providers.Anthropic.APIKey != "" {
		registry.Register(anthropic.NewClient(cfg.Providers.Anthropic, logger))
		logger.WithField("provider", "anthropic").Info("Anthropic live client registered")
		registered++
	}

	if registered == 0 {
		logger.Info("No live provider clients registered; executions will be simulated")
	}
	logger.WithField("count", registered).Info("Provider registration completed")
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY                    OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY                 Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  SCHEDULER_PORT                    Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  SCHEDULER_LOG_LEVEL               Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  SCHEDULER_LOG_FORMAT              Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  SCHEDULER_ROUTING_ENABLED         Routing kill switch (true/false)\n")
	fmt.Fprintf(os.Stderr, "  SCHEDULER_LIVE_PROVIDERS_ENABLED  Enable live provider calls\n")
	fmt.Fprintf(os.Stderr, "  SCHEDULER_LEARNING_ENABLED        Enable history-based learning\n")
	fmt.Fprintf(os.Stderr, "  SCHEDULER_TOKEN_SECRET            Approval signing secret\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx %s\n", os.Args[0])
}

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("Provider Scheduler v1.0.0\n")
		os.Exit(0)
	}

	// Create and run application
	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
