// Package main provides the CLI entry point for the conductor agent service.
//
// Conductor runs a bounded agent turn loop over LLM providers (Anthropic,
// OpenAI) with policy-gated tool execution, a reasoning step stream, and a
// deterministic research scenario graph.
//
// # Basic Usage
//
// Start the server:
//
//	conductor serve --config conductor.yaml
//
// Run the research scenario once from the terminal:
//
//	conductor research "mamba state space models for long context"
//
// # Environment Variables
//
//   - CONDUCTOR_CONFIG: Path to configuration file (default: conductor.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/agent/providers"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/gateway"
	"github.com/haasonsaas/conductor/internal/graph"
	"github.com/haasonsaas/conductor/internal/graph/research"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/internal/tools"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "conductor",
		Short:        "Conductor - agent turn orchestrator",
		Long:         "Conductor runs a bounded agent turn loop with policy-gated tools,\na reasoning step stream, and a deterministic research scenario graph.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildResearchCmd(), buildTapeCmd())
	return rootCmd
}

func configPathFlag(cmd *cobra.Command) *string {
	def := os.Getenv("CONDUCTOR_CONFIG")
	if def == "" {
		def = "conductor.yaml"
	}
	return cmd.Flags().String("config", def, "Path to configuration file")
}

// loadConfig reads the config file, falling back to defaults when the default
// path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "conductor.yaml" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func buildLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(observability.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     os.Stderr,
		RedactKeys: cfg.Logging.Redact,
	})
	slog.SetDefault(logger)
	return logger
}

func buildModelClient(cfg *config.Config) (agent.ModelClient, error) {
	switch cfg.Model.Provider {
	case "anthropic":
		key := cfg.Model.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic api key is not configured")
		}
		return providers.NewAnthropicClient(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      cfg.Model.BaseURL,
			DefaultModel: cfg.Model.DefaultModel,
			MaxTokens:    cfg.Model.MaxTokens,
		}), nil
	case "openai":
		key := cfg.Model.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai api key is not configured")
		}
		return providers.NewOpenAIClient(key, cfg.Model.DefaultModel), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

func buildStore(cfg *config.Config) (sessions.Store, sessions.RecordStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		store := sessions.NewMemoryStore()
		return store, store, nil
	case "sqlite":
		store, err := sessions.OpenSQLite(cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, store, nil
	case "postgres":
		store, err := sessions.OpenPostgres(cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// buildResearchFactory wires the research graph collaborators once and binds
// a fresh runner per observer.
func buildResearchFactory(model agent.ModelClient, papers *tools.PaperSearch, cfg *config.Config, logger *slog.Logger, tracer *observability.Tracer) gateway.ResearchFactory {
	parser := research.NewIntentParser(model, logger)
	search := research.SearchFunc{
		Source: "arxiv",
		Fn: func(ctx context.Context, query string) ([]research.Paper, error) {
			hits, err := papers.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			out := make([]research.Paper, 0, len(hits))
			for _, h := range hits {
				out = append(out, research.Paper{
					ID:       h.ID,
					Title:    h.Title,
					Authors:  h.Authors,
					Year:     h.Year,
					Abstract: h.Abstract,
					URL:      h.URL,
					Source:   h.Source,
				})
			}
			return out, nil
		},
	}
	discoverer := research.NewDiscoverer(search, logger)
	synthesizer := research.NewSynthesizer(model, logger)
	return func(obs graph.Observer) *research.Runner {
		return research.NewRunner(parser, discoverer, synthesizer, research.Config{
			MaxRecallAttempts: cfg.Scenario.MaxRecallAttempts,
			Logger:            logger,
			Observer:          obs,
			Tracer:            tracer,
		})
	}
}

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conductor HTTP server",
	}
	configPath := configPathFlag(cmd)
	tapePath := cmd.Flags().String("tape", "", "Record every turn's event stream to a JSONL tape file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		logger := buildLogger(cfg)

		metrics := observability.NewMetrics()
		tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "conductor",
			ServiceVersion: version,
			Endpoint:       tracingEndpoint(cfg),
			Insecure:       cfg.Observability.Tracing.Insecure,
		})

		model, err := buildModelClient(cfg)
		if err != nil {
			return err
		}
		store, records, err := buildStore(cfg)
		if err != nil {
			return err
		}

		web := tools.NewWebSearch(nil, 5)
		papers := tools.NewPaperSearch(nil, 10)
		video := tools.NewVideoTools("", "")

		registry := agent.NewRegistry()
		if err := tools.RegisterBuiltins(registry, web, papers, video); err != nil {
			return err
		}

		executor := agent.NewExecutor(registry, &agent.ExecutorConfig{
			Metrics: metrics,
			Tracer:  tracer,
		}, logger)
		director := agent.NewDirector(cfg.Agent.SearchQuota)
		router := agent.NewTranscriptRouter(records, model, logger)
		qa := agent.NewModelTranscriptQA(model)

		loopCfg := &agent.LoopConfig{
			Model:                 cfg.Model.DefaultModel,
			MaxTokens:             cfg.Model.MaxTokens,
			MaxToolSteps:          cfg.Agent.MaxToolSteps,
			MaxExecutionTime:      cfg.Agent.MaxExecutionTime,
			MaxVideoExecutionTime: cfg.Agent.MaxVideoExecutionTime,
			IdleTimeout:           cfg.Agent.IdleTimeout,
			SearchQuota:           cfg.Agent.SearchQuota,
			MaxHistoryMessages:    cfg.Session.MaxHistoryMessages,
			Logger:                logger,
			Metrics:               metrics,
			Tracer:                tracer,
		}
		loop := agent.NewTurnLoop(model, executor, registry, director, loopCfg).
			WithStores(store, records).
			WithTranscriptRouter(router, qa)

		serverOpts := gateway.ServerOptions{
			Config:   cfg,
			Logger:   logger,
			Loop:     loop,
			Director: director,
			Store:    store,
			Records:  records,
			Research: buildResearchFactory(model, papers, cfg, logger, tracer),
			Metrics:  metrics,
		}
		if *tapePath != "" {
			tape, err := agent.NewTapeSinkFile(*tapePath, "serve")
			if err != nil {
				return err
			}
			defer tape.Close()
			serverOpts.Tape = tape
			logger.Info("recording event tape", "path", *tapePath)
		}
		server := gateway.NewServer(serverOpts)
		if err := server.Start(); err != nil {
			return err
		}

		logger.Info("conductor started",
			"version", version,
			"provider", cfg.Model.Provider,
			"database", cfg.Database.Driver)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
		return nil
	}
	return cmd
}

func tracingEndpoint(cfg *config.Config) string {
	if !cfg.Observability.Tracing.Enabled {
		return ""
	}
	return cfg.Observability.Tracing.Endpoint
}

func buildResearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Run the research scenario graph once and print the report",
		Args:  cobra.MinimumNArgs(1),
	}
	configPath := configPathFlag(cmd)
	offline := cmd.Flags().Bool("offline", false, "Run without a model client (deterministic fallbacks only)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		logger := buildLogger(cfg)

		var model agent.ModelClient
		if !*offline {
			model, err = buildModelClient(cfg)
			if err != nil {
				return err
			}
		}
		papers := tools.NewPaperSearch(&http.Client{Timeout: 20 * time.Second}, 10)
		factory := buildResearchFactory(model, papers, cfg, logger, nil)

		prompt := strings.Join(args, " ")
		state := &research.State{
			UserPrompt:        prompt,
			SearchQuery:       prompt,
			MaxRecallAttempts: cfg.Scenario.MaxRecallAttempts,
		}
		result := factory(graph.NopObserver{}).Run(cmd.Context(), state)

		fmt.Println(result.State.FinalReport)
		if !result.Success {
			return fmt.Errorf("research scenario failed: %s", strings.Join(result.Errors, "; "))
		}
		return nil
	}
	return cmd
}

func buildTapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tape",
		Short: "Inspect recorded event tapes",
	}
	cmd.AddCommand(buildTapeStatsCmd())
	return cmd
}

// buildTapeStatsCmd replays a JSONL tape through the stats collector and
// prints the turn summary.
func buildTapeStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [file]",
		Short: "Summarize a recorded event tape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			header, events, err := agent.ReadTape(f)
			if err != nil {
				return err
			}
			sessionID := ""
			if header != nil {
				sessionID = header.SessionID
			}
			collector := agent.NewStatsCollector(sessionID)
			for _, e := range events {
				collector.Emit(cmd.Context(), e)
			}

			out, err := json.MarshalIndent(collector.Stats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
