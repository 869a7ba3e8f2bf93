package cmd

import (
	"path/filepath"

	"github.com/orchestrix-dev/orchestrix/internal/approval"
	"github.com/orchestrix-dev/orchestrix/internal/events"
	"github.com/orchestrix-dev/orchestrix/internal/runtime"
	"github.com/orchestrix-dev/orchestrix/internal/skills"
	"github.com/orchestrix-dev/orchestrix/internal/state"
	"github.com/orchestrix-dev/orchestrix/internal/tools"
	"github.com/orchestrix-dev/orchestrix/internal/worktree"
)

// engine bundles everything a command needs plus its shutdown hook.
type engine struct {
	Orchestrator *runtime.Orchestrator
	Store        *state.Store
	Bus          *events.Bus
	Catalog      *skills.Catalog

	close func()
}

func (e *engine) Close() {
	if e.close != nil {
		e.close()
	}
}

// buildEngine wires the full runtime from the loaded configuration.
func buildEngine() (*engine, error) {
	store, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(256)
	recorder := events.NewRecorder(store, bus, logger)

	catalogPath := filepath.Join(cfg.WorkspaceRoot, ".orchestrix", "skills.yaml")
	catalog, err := skills.NewCatalog(catalogPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	gate := approval.NewGate()
	rt := &runtime.Runtime{
		Store:           store,
		Recorder:        recorder,
		Registry:        tools.NewRegistry(catalog),
		Worktrees:       worktree.NewManager(logger),
		Gate:            gate,
		DevServers:      runtime.NewDevServerRegistry(),
		Logger:          logger,
		ApprovalTimeout: cfg.Approval.Timeout,
		RetryBackoff:    cfg.SubAgent.RetryBackoff,
	}

	orch := runtime.NewOrchestrator(rt, cfg.WorkspaceRoot, catalog)

	return &engine{
		Orchestrator: orch,
		Store:        store,
		Bus:          bus,
		Catalog:      catalog,
		close: func() {
			bus.Close()
			_ = store.Close()
		},
	}, nil
}
