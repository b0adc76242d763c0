package postgres

// Schema is the PostgreSQL schema for the ledger. It is safe to run on every
// start.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY,
    trust_score  NUMERIC(5,2) NOT NULL DEFAULT 0
                 CHECK (trust_score >= 0 AND trust_score <= 100),
    certified    BOOLEAN NOT NULL DEFAULT FALSE,
    certified_at TIMESTAMPTZ NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS capabilities (
    seq         BIGINT GENERATED ALWAYS AS IDENTITY,
    agent_id    TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    declared_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (agent_id, name)
);

CREATE TABLE IF NOT EXISTS test_results (
    id         TEXT PRIMARY KEY,
    seq        BIGINT GENERATED ALWAYS AS IDENTITY,
    agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    capability TEXT NOT NULL,
    result     TEXT NOT NULL CHECK (result IN ('pass', 'fail')),
    evidence   TEXT NOT NULL DEFAULT '',
    tested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agents_certified ON agents (trust_score DESC) WHERE certified;
CREATE INDEX IF NOT EXISTS idx_capabilities_declared ON capabilities (agent_id, declared_at, seq);
CREATE INDEX IF NOT EXISTS idx_test_results_agent ON test_results (agent_id, tested_at DESC, seq DESC);

CREATE OR REPLACE FUNCTION certledger_reject_test_result_update() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'test results are append-only' USING ERRCODE = 'integrity_constraint_violation';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS test_results_immutable ON test_results;
CREATE TRIGGER test_results_immutable BEFORE UPDATE ON test_results
    FOR EACH ROW EXECUTE FUNCTION certledger_reject_test_result_update();

CREATE OR REPLACE FUNCTION certledger_keep_certified_at() RETURNS trigger AS $$
BEGIN
    IF OLD.certified_at IS NOT NULL AND NEW.certified_at IS DISTINCT FROM OLD.certified_at THEN
        RAISE EXCEPTION 'certified_at is write-once' USING ERRCODE = 'integrity_constraint_violation';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS agents_certified_at_sticky ON agents;
CREATE TRIGGER agents_certified_at_sticky BEFORE UPDATE OF certified_at ON agents
    FOR EACH ROW EXECUTE FUNCTION certledger_keep_certified_at();
`
