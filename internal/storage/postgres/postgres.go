// Package postgres implements storage.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagnerlima/certledger/internal/models"
	"github.com/wagnerlima/certledger/internal/storage"
)

// Store is a storage.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn and runs the schema bootstrap.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Atomic runs fn in a READ COMMITTED transaction. Writers serialize on the
// agent row through LockAgent.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, fn)
}

// View runs fn in a REPEATABLE READ, READ ONLY transaction so that the agent
// row, its results and its counts come from one snapshot.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const agentColumns = `id, trust_score::float8, certified, certified_at, created_at`

func (t *pgTx) EnsureAgent(ctx context.Context, id string, now time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO agents (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, now.UTC(),
	)
	if err != nil {
		return classify("ensure agent", err)
	}
	return nil
}

func (t *pgTx) LockAgent(ctx context.Context, id string) error {
	var locked string
	err := t.tx.QueryRow(ctx, `SELECT id FROM agents WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("agent %q: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return classify("lock agent", err)
	}
	return nil
}

func (t *pgTx) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanAgent(t.tx.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %q: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get agent", err)
	}
	return a, nil
}

func (t *pgTx) UpdateScore(ctx context.Context, id string, score float64, certified bool, now time.Time) (*models.Agent, error) {
	a, err := scanAgent(t.tx.QueryRow(ctx,
		`UPDATE agents
		 SET trust_score = $2::numeric,
		     certified = $3,
		     certified_at = CASE WHEN $3 AND certified_at IS NULL THEN $4::timestamptz ELSE certified_at END
		 WHERE id = $1
		 RETURNING `+agentColumns,
		id, strconv.FormatFloat(score, 'f', 2, 64), certified, now.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %q: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, classify("update score", err)
	}
	return a, nil
}

func (t *pgTx) ListCertified(ctx context.Context, filter string) ([]models.Agent, error) {
	var rows pgx.Rows
	var err error

	if filter == "" {
		rows, err = t.tx.Query(ctx,
			`SELECT `+agentColumns+` FROM agents WHERE certified ORDER BY trust_score DESC, id`,
		)
	} else {
		rows, err = t.tx.Query(ctx,
			`SELECT `+agentColumns+` FROM agents a
			 WHERE a.certified
			   AND EXISTS (
			       SELECT 1 FROM capabilities c
			       WHERE c.agent_id = a.id AND strpos(lower(c.name), lower($1)) > 0
			   )
			 ORDER BY a.trust_score DESC, a.id`,
			filter,
		)
	}
	if err != nil {
		return nil, classify("list certified agents", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, classify("scan agent", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list certified agents", err)
	}
	return agents, nil
}

func (t *pgTx) UpsertCapability(ctx context.Context, c models.Capability) (*models.Capability, error) {
	out := models.Capability{AgentID: c.AgentID}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO capabilities (agent_id, name, description, declared_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id, name) DO UPDATE SET description = EXCLUDED.description
		 RETURNING name, description, declared_at`,
		c.AgentID, c.Name, c.Description, c.DeclaredAt.UTC(),
	).Scan(&out.Name, &out.Description, &out.DeclaredAt)
	if err != nil {
		return nil, classify("upsert capability", err)
	}
	out.DeclaredAt = out.DeclaredAt.UTC()
	return &out, nil
}

func (t *pgTx) ListCapabilities(ctx context.Context, agentID string) ([]models.Capability, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT name, description, declared_at FROM capabilities
		 WHERE agent_id = $1
		 ORDER BY declared_at, seq`,
		agentID,
	)
	if err != nil {
		return nil, classify("list capabilities", err)
	}
	defer rows.Close()

	var caps []models.Capability
	for rows.Next() {
		c := models.Capability{AgentID: agentID}
		if err := rows.Scan(&c.Name, &c.Description, &c.DeclaredAt); err != nil {
			return nil, classify("scan capability", err)
		}
		c.DeclaredAt = c.DeclaredAt.UTC()
		caps = append(caps, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list capabilities", err)
	}
	return caps, nil
}

func (t *pgTx) AppendTestResult(ctx context.Context, r models.TestResult) (*models.TestResult, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO test_results (id, agent_id, capability, result, evidence, tested_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.AgentID, r.Capability, r.Result, r.Evidence, r.TestedAt.UTC(),
	)
	if err != nil {
		return nil, classify("insert test result", err)
	}
	// timestamptz keeps microseconds
	r.TestedAt = r.TestedAt.UTC().Truncate(time.Microsecond)
	return &r, nil
}

func (t *pgTx) ListTestResults(ctx context.Context, agentID string, limit int) ([]models.TestResult, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, capability, result, evidence, tested_at FROM test_results
		 WHERE agent_id = $1
		 ORDER BY tested_at DESC, seq DESC
		 LIMIT $2`,
		agentID, limit,
	)
	if err != nil {
		return nil, classify("list test results", err)
	}
	defer rows.Close()

	var results []models.TestResult
	for rows.Next() {
		r := models.TestResult{AgentID: agentID}
		if err := rows.Scan(&r.ID, &r.Capability, &r.Result, &r.Evidence, &r.TestedAt); err != nil {
			return nil, classify("scan test result", err)
		}
		r.TestedAt = r.TestedAt.UTC()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list test results", err)
	}
	return results, nil
}

func (t *pgTx) CountResults(ctx context.Context, agentID string) (models.Summary, error) {
	var s models.Summary
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE result = 'pass')
		 FROM test_results WHERE agent_id = $1`,
		agentID,
	).Scan(&s.Total, &s.Passed)
	if err != nil {
		return models.Summary{}, classify("count test results", err)
	}
	s.Failed = s.Total - s.Passed
	return s, nil
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	if err := row.Scan(&a.ID, &a.TrustScore, &a.Certified, &a.CertifiedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if a.CertifiedAt != nil {
		ts := a.CertifiedAt.UTC()
		a.CertifiedAt = &ts
	}
	return &a, nil
}

// classify wraps a pgx error with its storage error kind. SQLSTATE class 23
// is an integrity constraint violation.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrConstraint, err)
	}
	return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
}
