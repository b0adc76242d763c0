package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/ext/unicode"

	"github.com/wagnerlima/certledger/internal/models"
)

// DBFile is the ledger database file name inside the data directory.
const DBFile = "certledger.db"

// timeLayout is fixed-width so that text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the ledger database in dataDir and runs the
// schema bootstrap.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)
	// unicode replaces the ASCII-only lower() used by the capability filter.
	db, err := driver.Open("file:"+dbPath+dsnPragmas, unicode.Register)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify("ping ledger db", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	if _, err := db.Exec(Triggers); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger triggers: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Atomic runs fn in an IMMEDIATE transaction.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, nil, fn)
}

// View runs fn in a DEFERRED, query_only transaction. Under WAL the snapshot
// is fixed by the first read.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *SQLiteStore) run(ctx context.Context, opts *sql.TxOptions, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) EnsureAgent(ctx context.Context, id string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO agents (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, formatTime(now),
	)
	if err != nil {
		return classify("ensure agent", err)
	}
	return nil
}

// LockAgent is a no-op: the IMMEDIATE transaction already holds the
// database write lock.
func (t *sqliteTx) LockAgent(context.Context, string) error {
	return nil
}

func (t *sqliteTx) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, trust_score, certified, certified_at, created_at FROM agents WHERE id = ?`,
		id,
	)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get agent", err)
	}
	return a, nil
}

func (t *sqliteTx) UpdateScore(ctx context.Context, id string, score float64, certified bool, now time.Time) (*models.Agent, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE agents
		 SET trust_score = ?,
		     certified = ?,
		     certified_at = CASE WHEN ? AND certified_at IS NULL THEN ? ELSE certified_at END
		 WHERE id = ?`,
		score, certified, certified, formatTime(now), id,
	)
	if err != nil {
		return nil, classify("update score", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return t.GetAgent(ctx, id)
}

func (t *sqliteTx) ListCertified(ctx context.Context, filter string) ([]models.Agent, error) {
	var rows *sql.Rows
	var err error

	if filter == "" {
		rows, err = t.tx.QueryContext(ctx,
			`SELECT id, trust_score, certified, certified_at, created_at
			 FROM agents
			 WHERE certified = 1
			 ORDER BY trust_score DESC, id`,
		)
	} else {
		rows, err = t.tx.QueryContext(ctx,
			`SELECT a.id, a.trust_score, a.certified, a.certified_at, a.created_at
			 FROM agents a
			 WHERE a.certified = 1
			   AND EXISTS (
			       SELECT 1 FROM capabilities c
			       WHERE c.agent_id = a.id AND instr(lower(c.name), lower(?)) > 0
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

func (t *sqliteTx) UpsertCapability(ctx context.Context, c models.Capability) (*models.Capability, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO capabilities (agent_id, name, description, declared_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_id, name) DO UPDATE SET description = excluded.description`,
		c.AgentID, c.Name, c.Description, formatTime(c.DeclaredAt),
	)
	if err != nil {
		return nil, classify("upsert capability", err)
	}

	// Re-read to get the original declaration time on updates
	var declaredAt string
	out := models.Capability{AgentID: c.AgentID, Name: c.Name}
	err = t.tx.QueryRowContext(ctx,
		`SELECT description, declared_at FROM capabilities WHERE agent_id = ? AND name = ?`,
		c.AgentID, c.Name,
	).Scan(&out.Description, &declaredAt)
	if err != nil {
		return nil, classify("read capability", err)
	}
	if out.DeclaredAt, err = parseTime(declaredAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *sqliteTx) ListCapabilities(ctx context.Context, agentID string) ([]models.Capability, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT name, description, declared_at FROM capabilities
		 WHERE agent_id = ?
		 ORDER BY declared_at, rowid`,
		agentID,
	)
	if err != nil {
		return nil, classify("list capabilities", err)
	}
	defer rows.Close()

	var caps []models.Capability
	for rows.Next() {
		c := models.Capability{AgentID: agentID}
		var declaredAt string
		if err := rows.Scan(&c.Name, &c.Description, &declaredAt); err != nil {
			return nil, classify("scan capability", err)
		}
		if c.DeclaredAt, err = parseTime(declaredAt); err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list capabilities", err)
	}
	return caps, nil
}

func (t *sqliteTx) AppendTestResult(ctx context.Context, r models.TestResult) (*models.TestResult, error) {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO test_results (id, agent_id, capability, result, evidence, tested_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, r.Capability, r.Result, r.Evidence, formatTime(r.TestedAt),
	)
	if err != nil {
		return nil, classify("insert test result", err)
	}
	r.TestedAt = r.TestedAt.UTC()
	return &r, nil
}

func (t *sqliteTx) ListTestResults(ctx context.Context, agentID string, limit int) ([]models.TestResult, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, capability, result, evidence, tested_at FROM test_results
		 WHERE agent_id = ?
		 ORDER BY tested_at DESC, rowid DESC
		 LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, classify("list test results", err)
	}
	defer rows.Close()

	var results []models.TestResult
	for rows.Next() {
		r := models.TestResult{AgentID: agentID}
		var testedAt string
		if err := rows.Scan(&r.ID, &r.Capability, &r.Result, &r.Evidence, &testedAt); err != nil {
			return nil, classify("scan test result", err)
		}
		if r.TestedAt, err = parseTime(testedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list test results", err)
	}
	return results, nil
}

func (t *sqliteTx) CountResults(ctx context.Context, agentID string) (models.Summary, error) {
	var s models.Summary
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN result = 'pass' THEN 1 ELSE 0 END), 0)
		 FROM test_results WHERE agent_id = ?`,
		agentID,
	).Scan(&s.Total, &s.Passed)
	if err != nil {
		return models.Summary{}, classify("count test results", err)
	}
	s.Failed = s.Total - s.Passed
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*models.Agent, error) {
	var a models.Agent
	var certifiedAt sql.NullString
	var createdAt string
	if err := row.Scan(&a.ID, &a.TrustScore, &a.Certified, &certifiedAt, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if certifiedAt.Valid {
		ts, err := parseTime(certifiedAt.String)
		if err != nil {
			return nil, err
		}
		a.CertifiedAt = &ts
	}
	return &a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q: %w", ErrConstraint, s, err)
	}
	return t, nil
}

// classify wraps a SQLite error with its error kind.
func classify(op string, err error) error {
	if errors.Is(err, ErrConstraint) || errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code() == sqlite3.CONSTRAINT {
		return fmt.Errorf("%s: %w: %w", op, ErrConstraint, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
