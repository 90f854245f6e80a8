package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/backend"
	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/orchestrator"
	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/registry"
)

// pipeline is a fully wired orchestrator and the resources behind it.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	store   *persistence.SQLiteStore
	backend backend.Backend
	pm      *backend.ProcessManager
	stopPM  func() bool
	logger  *zap.Logger
}

// openStore opens the configured journal database.
func openStore(ctx context.Context, cfg *config.Config) (*persistence.SQLiteStore, error) {
	store, err := persistence.NewSQLiteStore(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", cfg.Storage.Path, err)
	}
	return store, nil
}

// newRegistry loads the persistent agent registry from store.
func newRegistry(ctx context.Context, cfg *config.Config, store *persistence.SQLiteStore, logger *zap.Logger) *registry.Registry {
	th := registry.DefaultThresholds()
	th.MinSuccessRate = cfg.Thresholds.MinSuccessRate
	th.MatchFloor = cfg.Thresholds.MatchFloor
	th.CapabilityWeight = cfg.Thresholds.CapabilityWeight
	th.PatternWeight = cfg.Thresholds.PatternWeight
	return registry.New(ctx, persistence.NewAgentStore(store), th, logger)
}

// pipelineOptions maps configuration onto scheduler options.
func pipelineOptions(cfg *config.Config) orchestrator.Options {
	return orchestrator.Options{
		ReuseThreshold:      cfg.Thresholds.ReuseScore,
		MaxPlanAttempts:     cfg.Limits.MaxPlanAttempts,
		MaxTaskRetries:      cfg.Limits.MaxTaskRetries,
		Workers:             cfg.Limits.Workers,
		PlanContextLimit:    cfg.Limits.PlanContextChars,
		ExecuteContextLimit: cfg.Limits.ExecuteContextChars,
	}
}

// gatewayConfig maps configuration onto the service gateway.
func gatewayConfig(cfg *config.Config) orchestrator.GatewayConfig {
	retry := orchestrator.DefaultRetryConfig()
	retry.InitialInterval = cfg.Retry.InitialInterval
	retry.MaxInterval = cfg.Retry.MaxInterval
	retry.MaxRetries = uint64(cfg.Retry.MaxRetries)
	return orchestrator.GatewayConfig{
		Retry:       retry,
		CallTimeout: cfg.Timeouts.Call,
	}
}

// loadKnowledge returns the knowledge text saved by the previous run.
func loadKnowledge(ctx context.Context, store *persistence.SQLiteStore) (string, error) {
	text, err := store.GetValue(ctx, persistence.KnowledgeKey)
	if persistence.IsNotFound(err) {
		return "", nil
	}
	return text, err
}

// newPipeline wires the backend, the journal and the registry into an
// orchestrator that publishes to bus.
func newPipeline(ctx context.Context, cfg *config.Config, bus *events.EventBus, freshKnowledge bool, logger *zap.Logger) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &pipeline{pm: backend.NewProcessManager(), logger: logger}
	// Subprocesses die with the context, also on Ctrl+C
	p.stopPM = context.AfterFunc(ctx, func() {
		if err := p.pm.KillAll(); err != nil {
			logger.Warn("Error killing subprocesses", zap.Error(err))
		}
	})

	b, err := backend.New(ctx, backend.Config{
		Type:    cfg.LLM.Backend,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Command: cfg.LLM.Command,
	}, p.pm)
	if err != nil {
		p.stopPM()
		return nil, fmt.Errorf("creating backend: %w", err)
	}
	p.backend = b

	store, err := openStore(ctx, cfg)
	if err != nil {
		p.close()
		return nil, err
	}
	p.store = store

	kb := orchestrator.NewKnowledgeBase("")
	if !freshKnowledge {
		text, err := loadKnowledge(ctx, store)
		if err != nil {
			logger.Warn("Could not load knowledge base, starting empty", zap.Error(err))
		}
		kb = orchestrator.NewKnowledgeBase(text)
	}

	p.orch = orchestrator.New(orchestrator.Config{
		Service:        agents.NewLLMService(b, logger.Named("llm")),
		Gateway:        gatewayConfig(cfg),
		Agents:         newRegistry(ctx, cfg, store, logger.Named("registry")),
		Bus:            bus,
		Journal:        store,
		Knowledge:      kb,
		Options:        pipelineOptions(cfg),
		MaxIntakeTurns: cfg.Limits.MaxIntakeTurns,
		Logger:         logger,
	})
	return p, nil
}

// saveKnowledge stores the knowledge base for the next run.
func (p *pipeline) saveKnowledge(ctx context.Context) error {
	return p.store.PutValue(context.WithoutCancel(ctx), persistence.KnowledgeKey, p.orch.Knowledge().String())
}

func (p *pipeline) close() error {
	p.stopPM()
	var errs []error
	if p.backend != nil {
		errs = append(errs, p.backend.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	errs = append(errs, p.pm.KillAll())
	return errors.Join(errs...)
}
