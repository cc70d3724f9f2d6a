// Maileventd extracts calendar events from decoded email messages over a
// small HTTP API.
//
// A multi-strategy ensemble (calendar invite, rule-based heuristics,
// remote NER, remote LLM) produces one merged result per message; the
// daemon classifies it against a field-count threshold and hands accepted
// records to a sink.
//
// Usage:
//
//	# Start with defaults
//	maileventd
//
//	# Load a config file, override via environment
//	SERVER_PORT=9090 maileventd -config /etc/mailevent/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/parchlabs/mailevent/internal/config"
	"github.com/parchlabs/mailevent/internal/extract"
	"github.com/parchlabs/mailevent/internal/logging"
	"github.com/parchlabs/mailevent/internal/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  maileventd           Start the extraction daemon\n")
			fmt.Fprintf(os.Stderr, "  maileventd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("maileventd by Parch Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until the context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Builds the extraction strategies and the coordinator
//  4. Starts the HTTP server
//  5. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger) // Best-effort sync on shutdown
	}()

	logger.Info("Starting maileventd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	coordinator, err := buildCoordinator(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize extraction ensemble: %w", err)
	}

	srv, err := server.New(cfg.Server, cfg.Cache, coordinator, server.NopSink{}, logger)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// buildCoordinator assembles the strategy ensemble from config. Remote
// strategies without a configured endpoint are left out with a warning
// rather than failing startup.
func buildCoordinator(cfg *config.Config, logger *zap.Logger) (*extract.Coordinator, error) {
	invite := extract.NewInviteStrategy()
	rules := extract.NewRuleExtractor()

	var ner extract.Strategy
	if cfg.Extraction.NEREnabled {
		if cfg.NER.Endpoint == "" {
			logger.Warn("ner strategy enabled but no endpoint configured, disabling")
		} else {
			n, err := extract.NewNERExtractor(cfg.NER.Extractor())
			if err != nil {
				return nil, err
			}
			ner = n
			logger.Info("ner strategy initialized",
				zap.String("endpoint", cfg.NER.Endpoint),
				zap.Bool("authenticated", cfg.NER.APIKey.IsSet()))
		}
	}

	var llm extract.Strategy
	if cfg.Extraction.LLMEnabled {
		if cfg.LLM.Endpoint == "" {
			logger.Warn("llm strategy enabled but no endpoint configured, disabling")
		} else {
			l, err := extract.NewLLMExtractor(cfg.LLM.Extractor())
			if err != nil {
				return nil, err
			}
			llm = l
			logger.Info("llm strategy initialized",
				zap.String("endpoint", cfg.LLM.Endpoint),
				zap.Bool("authenticated", cfg.LLM.APIKey.IsSet()))
		}
	}

	logger.Info("extraction ensemble configured",
		zap.String("strategy_order", string(cfg.Extraction.StrategyOrder)),
		zap.Int("field_count_threshold", cfg.Extraction.FieldCountThreshold),
		zap.Bool("ner", ner != nil),
		zap.Bool("llm", llm != nil))

	return extract.NewCoordinator(cfg.Extraction, invite, rules, ner, llm, logger)
}
