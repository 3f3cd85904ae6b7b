// Package storage persists pipeline tables as SQL snapshots. Backends
// register themselves by kind from init(); the pipeline picks one through
// configuration and never touches a driver directly.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"presale/internal/table"
)

// SeqColumn is the hidden ordering column every snapshot table carries.
// Load sorts by it so a reloaded table reproduces the saved row order.
const SeqColumn = "seq"

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository stores and reloads table snapshots.
//
// A snapshot replaces the destination table wholesale: Save drops and
// recreates it, so the table always reflects exactly one pipeline run.
// Load reproduces the saved table, column order and row order included.
type Repository interface {
	// Save replaces the named table with t and returns the rows written.
	Save(ctx context.Context, name string, t *table.Table) (int64, error)

	// Load reads the named table back in saved order.
	Load(ctx context.Context, name string) (*table.Table, error)

	// Close releases backend resources (connections, pools). Callers
	// should treat Close as "call once" at shutdown.
	Close()
}

// Factory builds a Repository from configuration.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under a kind (e.g. "postgres",
// "sqlite"). Backends call Register from an init function.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ValidateSnapshot checks a Save request before any SQL runs. All backends
// share the same preconditions: a table name, at least one column, and no
// collision with the hidden ordering column.
func ValidateSnapshot(name string, t *table.Table) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if t == nil || len(t.Columns) == 0 {
		return fmt.Errorf("storage: snapshot of %s has no columns", name)
	}
	if t.Has(SeqColumn) {
		return fmt.Errorf("storage: snapshot of %s collides with reserved column %q", name, SeqColumn)
	}
	return nil
}
