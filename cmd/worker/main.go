package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/patchflow/worker/internal/agent"
	"github.com/patchflow/worker/internal/checkpoint"
	"github.com/patchflow/worker/internal/config"
	"github.com/patchflow/worker/internal/db"
	"github.com/patchflow/worker/internal/engine"
	"github.com/patchflow/worker/internal/event"
	"github.com/patchflow/worker/internal/idempotency"
	"github.com/patchflow/worker/internal/lock"
	"github.com/patchflow/worker/internal/worker"
	"github.com/patchflow/worker/internal/workflow"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load configuration: %v", err)
	}
	sugar.Infow("Starting worker",
		"environment", cfg.Environment,
		"mode", cfg.Mode(),
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
	)

	// 1. Durable stores: PostgreSQL when configured, in-memory otherwise.
	var (
		idemStore   idempotency.Store
		locks       lock.Manager
		checkpoints checkpoint.Manager
		definitions workflow.DefinitionStore
		executions  workflow.ExecutionStore
	)
	if cfg.DatabaseURL != "" {
		dbClient, err := db.NewClient(ctx, cfg.DatabaseURL, sugar)
		if err != nil {
			sugar.Fatalf("Failed to connect to database: %v", err)
		}
		defer dbClient.Close()
		if err := dbClient.EnsureSchema(ctx); err != nil {
			sugar.Fatalf("Failed to ensure schema: %v", err)
		}
		idemStore = db.NewIdempotencyStore(dbClient)
		locks = db.NewLockManager(dbClient)
		checkpoints = db.NewCheckpointManager(dbClient)
		definitions = db.NewDefinitionStore(dbClient)
		executions = db.NewExecutionStore(dbClient)
	} else {
		sugar.Warn("DATABASE_URL not set, using in-memory stores")
		idemStore = idempotency.NewMemoryStore()
		locks = lock.NewMemoryManager()
		checkpoints = checkpoint.NewMemoryManager()
		definitions = workflow.NewMemoryDefinitionStore()
		executions = workflow.NewMemoryExecutionStore()
	}

	// 2. Event bus
	eventBus := event.NewBus(sugar)

	// 3. Agent registry with the mock agent until real agents register.
	registry := agent.NewRegistry(sugar)
	if err := registry.Register(agent.NewMockAgent("mock", "analyze", "review", "summarize")); err != nil {
		sugar.Fatalf("Failed to register mock agent: %v", err)
	}

	// 4. Orchestration engine
	eng := engine.New(definitions, executions, registry, checkpoints, eventBus, sugar, engine.Options{})

	if cfg.WorkflowsDir != "" {
		if err := loadWorkflows(ctx, eng, cfg.WorkflowsDir, sugar); err != nil {
			sugar.Fatalf("Failed to load workflows: %v", err)
		}
	}

	// 5. Processing core shared by push and pull.
	metrics := worker.NewMetrics()
	processor := worker.NewProcessor(idemStore, locks, eng, eventBus, metrics, sugar, worker.ProcessorOptions{
		LockTTL:    cfg.LockTTL,
		JobTimeout: cfg.JobTimeout,
	})

	// 6. Pull consumer, when configured. The in-memory broker stands in
	// until a real subscription client is wired here.
	if cfg.PullMode {
		broker := worker.NewMemoryBroker()
		puller := worker.NewPuller(broker, processor, sugar, cfg.MaxConcurrentJobs)
		go func() {
			if err := puller.Run(ctx); err != nil {
				sugar.Errorw("Pull consumer exited", "error", err)
			}
		}()
		sugar.Infow("Pull consumer configured",
			"project", cfg.BrokerProject,
			"subscription", cfg.BrokerSubscription,
		)
	}

	// 7. HTTP surface: push ingress, cleanup, stats, metrics, health.
	server := worker.NewServer(processor, idemStore, metrics, sugar, cfg.Mode(), cfg.MaxConcurrentJobs)
	go func() {
		if err := server.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("HTTP server failed: %v", err)
		}
	}()
	sugar.Infof("Worker HTTP server listening on %s", cfg.Addr())

	// 8. gRPC health probe for the platform's liveness checks.
	grpcServer := grpclib.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("worker", healthpb.HealthCheckResponse_SERVING)

	grpcPort := os.Getenv("GRPC_PORT")
	if grpcPort == "" {
		grpcPort = "50051"
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", grpcPort))
	if err != nil {
		sugar.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			sugar.Errorw("gRPC health server failed", "error", err)
		}
	}()
	sugar.Infof("gRPC health server listening on :%s", grpcPort)

	<-ctx.Done()
	sugar.Info("Shutting down...")
	healthServer.SetServingStatus("worker", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("HTTP shutdown failed", "error", err)
	}
	grpcServer.GracefulStop()
	sugar.Info("Worker stopped")
}

// loadWorkflows registers every YAML definition found in dir. A definition
// that already exists in the store is left as is; definitions are immutable.
func loadWorkflows(ctx context.Context, eng *engine.Engine, dir string, sugar *zap.SugaredLogger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read workflows dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		text, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		def, err := workflow.ParseDefinition(string(text))
		if err != nil {
			return fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		if err := eng.CreateWorkflow(ctx, def); err != nil {
			if errors.Is(err, workflow.ErrAlreadyExists) {
				sugar.Debugw("Workflow already registered", "workflow_id", def.ID)
				continue
			}
			return fmt.Errorf("register %s: %w", def.ID, err)
		}
	}
	return nil
}
