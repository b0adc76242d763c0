// Package storage persists agents, capabilities and test results.
//
// Store is the contract the certification service depends on; SQLiteStore is
// the default implementation and package postgres provides a PostgreSQL one.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/wagnerlima/certledger/internal/models"
)

// Error kinds surfaced by every Store implementation. Driver errors are
// wrapped so both the kind and the original cause stay matchable.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("storage unavailable")
	ErrConstraint  = errors.New("constraint violation")
)

// Store is a durable, transactional store. Open it at process start and
// Close it at shutdown.
type Store interface {
	// Atomic runs fn inside a single transaction. The transaction commits
	// when fn returns nil and rolls back otherwise. Concurrent writers to the
	// same agent are serialized.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn inside a read-only transaction. Every read in fn sees the
	// same committed snapshot. Writes through tx fail.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// EnsureAgent creates the agent row if it does not exist yet. It is
	// idempotent and safe to call concurrently for the same id.
	EnsureAgent(ctx context.Context, id string, now time.Time) error
	// LockAgent holds the agent row until the transaction ends.
	LockAgent(ctx context.Context, id string) error
	// GetAgent returns ErrNotFound when the agent does not exist.
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	// UpdateScore stores the recomputed trust state. certified_at is set the
	// first time certified is true and never cleared.
	UpdateScore(ctx context.Context, id string, score float64, certified bool, now time.Time) (*models.Agent, error)
	// ListCertified returns certified agents by trust score, highest first.
	// A non-empty filter keeps only agents with a capability whose name
	// contains it, ignoring case.
	ListCertified(ctx context.Context, filter string) ([]models.Agent, error)

	// UpsertCapability inserts the capability or replaces its description.
	UpsertCapability(ctx context.Context, c models.Capability) (*models.Capability, error)
	// ListCapabilities returns an agent's capabilities, oldest first.
	ListCapabilities(ctx context.Context, agentID string) ([]models.Capability, error)

	// AppendTestResult records a new immutable test result.
	AppendTestResult(ctx context.Context, r models.TestResult) (*models.TestResult, error)
	// ListTestResults returns at most limit results, newest first.
	ListTestResults(ctx context.Context, agentID string, limit int) ([]models.TestResult, error)
	// CountResults aggregates the agent's entire test history.
	CountResults(ctx context.Context, agentID string) (models.Summary, error)
}
