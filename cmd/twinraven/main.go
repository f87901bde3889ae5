// TwinRaven server - observes agent tool telemetry and runs the mining,
// synthesis, validation, and registry pipeline.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/southpawriter02/twinraven/pkg/api"
	"github.com/southpawriter02/twinraven/pkg/cleanup"
	"github.com/southpawriter02/twinraven/pkg/config"
	"github.com/southpawriter02/twinraven/pkg/database"
	"github.com/southpawriter02/twinraven/pkg/llm"
	"github.com/southpawriter02/twinraven/pkg/miner"
	"github.com/southpawriter02/twinraven/pkg/models"
	"github.com/southpawriter02/twinraven/pkg/orchestrate"
	"github.com/southpawriter02/twinraven/pkg/registry"
	"github.com/southpawriter02/twinraven/pkg/storage"
	"github.com/southpawriter02/twinraven/pkg/synth"
	"github.com/southpawriter02/twinraven/pkg/validator"
	"github.com/southpawriter02/twinraven/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	userConfig := flag.String("user-config",
		getEnv("TWINRAVEN_USER_CONFIG", ""),
		"Path to the user defaults file")
	projectConfig := flag.String("config",
		getEnv("TWINRAVEN_CONFIG", "twinraven.yaml"),
		"Path to the project configuration file")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))

	log.Printf("Starting %s", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var files []string
	if *userConfig != "" {
		files = append(files, *userConfig)
	}
	files = append(files, *projectConfig)

	cfg, err := config.Initialize(ctx, files...)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL, schema up to date")

	events := storage.NewPostgresEventStore(dbClient.DB())
	candidates := storage.NewPostgresCandidateStore(dbClient.DB())
	records := registry.NewPostgresRecordStore(dbClient.DB())
	reg := registry.New(records, cfg.Registry.Dir)

	var provider llm.Provider
	if cfg.LLM.Model != "" {
		provider, err = llm.NewClient(llm.ClientConfig{
			APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.LLM.Timeout,
			MaxAttempts: cfg.LLM.MaxAttempts,
		})
		if err != nil {
			log.Fatalf("Failed to configure LLM provider: %v", err)
		}
	}

	mine := miner.New(events)
	synthesizer := synth.New(events, provider, synth.Config{
		SampleLimit:      cfg.Synthesis.SampleLimit,
		MaxTokens:        cfg.Synthesis.MaxTokens,
		MaxParallelSteps: cfg.Synthesis.MaxParallelSteps,
	})
	validate := validator.New(events, validator.Config{
		MinReplaySessions:    cfg.Validation.MinReplaySessions,
		EquivalenceThreshold: cfg.Validation.EquivalenceThreshold,
		MaxLatencyRegression: cfg.Validation.MaxLatencyRegression,
		SimilarityMethod:     models.SimilarityMethod(cfg.Validation.SimilarityMethod),
		ApprovalRequired:     cfg.Validation.ApprovalRequired,
	})

	pool := orchestrate.NewWorkerPool(cfg.Orchestrator.WorkerCount, cfg.Orchestrator.MaxCandidates)
	pool.Start(ctx)
	defer pool.Stop()

	miningCfg := cfg.Mining
	miningCfg.Since = time.Now().UTC().Add(-cfg.Orchestrator.MiningWindow)
	pipeline := orchestrate.NewPipeline(mine, synthesizer, validate, reg, candidates, pool, orchestrate.Config{
		Mining:         miningCfg,
		MaxFailureRate: cfg.Orchestrator.MaxFailureRate,
		MaxCandidates:  cfg.Orchestrator.MaxCandidates,
	})

	scanner := registry.NewScanner(reg, mine, events, registry.ScanConfig{
		DriftThreshold:        cfg.Registry.DriftThreshold,
		AutoRetireOnDrift:     cfg.Registry.AutoRetireOnDrift,
		DriftWindow:           cfg.Registry.DriftWindow,
		AutoRetireAfterDays:   cfg.Registry.AutoRetireAfterDays,
		FailureSpikeThreshold: cfg.Registry.FailureSpikeThreshold,
	})

	scheduler := orchestrate.NewScheduler(pipeline, scanner,
		cfg.Orchestrator.RunInterval, cfg.Orchestrator.ScanInterval)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	retention := cleanup.NewService(cleanup.Config{
		EventRetention: cfg.Retention.EventRetention,
		CandidateTTL:   cfg.Retention.CandidateTTL,
		Interval:       cfg.Retention.Interval,
	}, events, candidates)
	retention.Start(ctx)
	defer retention.Stop()

	if cfg.API.Enabled {
		server := api.NewServer(dbClient, events, candidates, reg)
		go func() {
			log.Printf("API listening on %s", cfg.API.Addr)
			if err := server.Start(cfg.API.Addr); err != nil {
				log.Printf("API server error: %v", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("API shutdown error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("Shutting down")
}
