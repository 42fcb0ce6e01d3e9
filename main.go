package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/prreview/internal/adapter/llm"
	"github.com/xiaot623/gogo/prreview/internal/agent"
	"github.com/xiaot623/gogo/prreview/internal/config"
	"github.com/xiaot623/gogo/prreview/internal/dispatch"
	"github.com/xiaot623/gogo/prreview/internal/metrics"
	"github.com/xiaot623/gogo/prreview/internal/policy"
	"github.com/xiaot623/gogo/prreview/internal/reviewio"
	"github.com/xiaot623/gogo/prreview/internal/service"
	"github.com/xiaot623/gogo/prreview/internal/store"
	handler "github.com/xiaot623/gogo/prreview/internal/transport/http"
	"github.com/xiaot623/gogo/prreview/internal/workflow"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting review engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM: %s (%s, model %s)", cfg.LLMBaseURL, cfg.LLMMode, cfg.LLMModel)

	fs := afero.NewOsFs()
	steps, err := cfg.Pipeline(fs)
	if err != nil {
		log.Fatalf("Failed to load pipeline: %v", err)
	}
	log.Printf("Pipeline: %d steps, %d workers", len(steps), cfg.Workers)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	registry, m := metrics.NewRegistry()

	// Initialize step adapters
	llmClient := llm.NewLLMClient(cfg.LLMMode, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
	agents, err := agent.NewLLMRegistry(llmClient, agent.Options{
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		log.Fatalf("Failed to initialize agents: %v", err)
	}

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.LoadEngine(ctx, fs, cfg.PolicyFile, cfg.MaxDiffBytes)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	pool := dispatch.NewPool(cfg.Workers, dispatch.WithMetrics(m), dispatch.WithVerbose(cfg.Debug()))
	pool.Start()
	defer pool.Stop()

	executor := workflow.NewExecutor(db, pool, agents, workflow.Config{
		Model:            cfg.LLMModel,
		ExecutionTimeout: cfg.ExecutionTimeout,
		Metrics:          m,
	})

	opts := service.Options{
		Steps:        steps,
		Policy:       policyEngine,
		Metrics:      m,
		PollInterval: cfg.PollInterval,
	}
	if cfg.ReviewsDir != "" {
		opts.Archive = reviewio.NewArchive(fs, cfg.ReviewsDir)
		log.Printf("Archiving completed reviews to %s", cfg.ReviewsDir)
	}
	svc := service.New(db, executor, opts)

	resumed, err := svc.ResumeIncomplete(ctx)
	if err != nil {
		log.Fatalf("Failed to resume executions: %v", err)
	}
	if resumed > 0 {
		log.Printf("Resumed %d incomplete executions", resumed)
	}

	server := handler.NewServer(handler.NewHandler(svc, metrics.HandlerFor(registry), cfg.PollInterval))

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Printf("API started on port %d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down review engine...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown server gracefully: %v", err)
		}
		// Running executions stop without terminal events and resume on
		// the next start.
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to stop executions: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
	log.Println("Review engine stopped")
}
