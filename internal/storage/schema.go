package storage

// Schema is the SQL schema for the SQLite ledger database.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY,
    trust_score  REAL NOT NULL DEFAULT 0
                 CHECK(trust_score >= 0 AND trust_score <= 100),
    certified    INTEGER NOT NULL DEFAULT 0 CHECK(certified IN (0, 1)),
    certified_at TEXT NULL,
    created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS capabilities (
    agent_id    TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    declared_at TEXT NOT NULL,
    PRIMARY KEY (agent_id, name)
);

CREATE TABLE IF NOT EXISTS test_results (
    id         TEXT PRIMARY KEY,
    agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    capability TEXT NOT NULL,
    result     TEXT NOT NULL CHECK(result IN ('pass', 'fail')),
    evidence   TEXT NOT NULL DEFAULT '',
    tested_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_certified ON agents(trust_score DESC) WHERE certified = 1;
CREATE INDEX IF NOT EXISTS idx_capabilities_declared ON capabilities(agent_id, declared_at);
CREATE INDEX IF NOT EXISTS idx_test_results_agent ON test_results(agent_id, tested_at DESC);
`

// Triggers guard the two write-once rules in the database itself: test
// results are never updated, and certified_at never changes once set.
const Triggers = `
CREATE TRIGGER IF NOT EXISTS test_results_immutable BEFORE UPDATE ON test_results BEGIN
    SELECT RAISE(ABORT, 'test results are append-only');
END;
CREATE TRIGGER IF NOT EXISTS agents_certified_at_sticky BEFORE UPDATE OF certified_at ON agents
WHEN OLD.certified_at IS NOT NULL AND NEW.certified_at IS NOT OLD.certified_at BEGIN
    SELECT RAISE(ABORT, 'certified_at is write-once');
END;
`

// dsnPragmas configures every pooled connection. Write transactions begin
// IMMEDIATE so concurrent reports serialize on the database write lock
// instead of failing on a stale snapshot.
const dsnPragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)&_txlock=immediate"
