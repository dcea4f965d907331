package app

import (
	"github.com/stacklok/offline-sync/internal/conflict"
	"github.com/stacklok/offline-sync/internal/connectivity"
	"github.com/stacklok/offline-sync/internal/store"
	"github.com/stacklok/offline-sync/internal/sync/orchestrator"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Store persists the queue, conflicts, rules and sync history
	Store store.Store

	// Monitor tracks reachability of the remote
	Monitor *connectivity.Monitor

	// Resolver detects and resolves conflicts
	Resolver *conflict.Resolver

	// Orchestrator schedules and runs sync passes
	Orchestrator orchestrator.Orchestrator
}
