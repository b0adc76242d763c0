// Package certification implements the certification ledger operations on
// top of a storage.Store.
//
// The service keeps no state between calls. Every operation runs as one
// store transaction and re-reads what it needs.
package certification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wagnerlima/certledger/internal/models"
	"github.com/wagnerlima/certledger/internal/scoring"
	"github.com/wagnerlima/certledger/internal/storage"
)

// RecentLimit is the number of recent test results in a status.
const RecentLimit = 10

// Service runs the certification operations.
type Service struct {
	store  storage.Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service over store.
func New(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is the full view of one agent.
type Status struct {
	Found        bool                `json:"found"`
	AgentID      string              `json:"agent_id,omitempty"`
	Agent        *models.Agent       `json:"agent,omitempty"`
	Capabilities []models.Capability `json:"capabilities"`
	RecentTests  []models.TestResult `json:"recent_tests"`
	Summary      *models.Summary     `json:"summary,omitempty"`
}

// AgentStatus is the trust state after a report.
type AgentStatus struct {
	TrustScore float64 `json:"trust_score"`
	Certified  bool    `json:"certified"`
}

// Report is the result of recording a test.
type Report struct {
	TestResult  models.TestResult `json:"test_result"`
	AgentStatus AgentStatus       `json:"agent_status"`
}

// VerifiedAgent is the agent summary attached to a verification.
type VerifiedAgent struct {
	ID         string  `json:"id"`
	TrustScore float64 `json:"trust_score"`
	Certified  bool    `json:"certified"`
}

// Verification is the outcome of a threshold check.
type Verification struct {
	Verified           bool           `json:"verified"`
	Reason             string         `json:"reason"`
	Agent              *VerifiedAgent `json:"agent"`
	ThresholdRequested float64        `json:"threshold_requested"`
}

// QueryStatus returns the agent's trust state, capabilities, most recent
// tests and a summary over its whole history. An unknown agent yields
// Found=false and no error.
func (s *Service) QueryStatus(ctx context.Context, agentID string) (*Status, error) {
	if err := ValidateRequired("agent_id", agentID); err != nil {
		return nil, err
	}

	st := &Status{AgentID: agentID}
	err := s.store.View(ctx, func(tx storage.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		caps, err := tx.ListCapabilities(ctx, agentID)
		if err != nil {
			return err
		}
		recent, err := tx.ListTestResults(ctx, agentID, RecentLimit)
		if err != nil {
			return err
		}
		sum, err := tx.CountResults(ctx, agentID)
		if err != nil {
			return err
		}

		st.Found = true
		st.Agent = agent
		st.Capabilities = nonNil(caps)
		st.RecentTests = nonNil(recent)
		st.Summary = &sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	return st, nil
}

// DeclareCapability records that the agent claims a named capability,
// creating the agent on first reference. Re-declaring a name replaces its
// description.
func (s *Service) DeclareCapability(ctx context.Context, agentID, name, description string) (*models.Capability, error) {
	if err := ValidateRequired("agent_id", agentID); err != nil {
		return nil, err
	}
	if err := ValidateRequired("capability_name", name); err != nil {
		return nil, err
	}

	now := s.now()
	var out *models.Capability
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.EnsureAgent(ctx, agentID, now); err != nil {
			return err
		}
		c, err := tx.UpsertCapability(ctx, models.Capability{
			AgentID:     agentID,
			Name:        name,
			Description: description,
			DeclaredAt:  now,
		})
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("declare capability: %w", err)
	}

	s.logger.Debug("capability declared", "agent_id", agentID, "capability", name)
	return out, nil
}

// ReportTestResult appends a test result and recomputes the agent's trust
// score in the same transaction. The capability name is not checked
// against declared capabilities.
func (s *Service) ReportTestResult(ctx context.Context, agentID, capability, outcome, evidence string) (*Report, error) {
	if err := ValidateRequired("agent_id", agentID); err != nil {
		return nil, err
	}
	if err := ValidateRequired("capability", capability); err != nil {
		return nil, err
	}
	if err := ValidateOutcome(outcome); err != nil {
		return nil, err
	}

	now := s.now()
	var report *Report
	var wasCertified bool
	var sum models.Summary
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.EnsureAgent(ctx, agentID, now); err != nil {
			return err
		}
		if err := tx.LockAgent(ctx, agentID); err != nil {
			return err
		}
		before, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		wasCertified = before.Certified

		created, err := tx.AppendTestResult(ctx, models.TestResult{
			ID:         s.newID(),
			AgentID:    agentID,
			Capability: capability,
			Result:     outcome,
			Evidence:   evidence,
			TestedAt:   now,
		})
		if err != nil {
			return err
		}

		sum, err = tx.CountResults(ctx, agentID)
		if err != nil {
			return err
		}
		res := scoring.Recompute(sum.Passed, sum.Total)
		agent, err := tx.UpdateScore(ctx, agentID, res.TrustScore, res.Certified, now)
		if err != nil {
			return err
		}

		report = &Report{
			TestResult: *created,
			AgentStatus: AgentStatus{
				TrustScore: agent.TrustScore,
				Certified:  agent.Certified,
			},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("report test result: %w", err)
	}

	attrs := []any{
		"agent_id", agentID,
		"capability", capability,
		"result", outcome,
		"trust_score", report.AgentStatus.TrustScore,
		"total_tests", sum.Total,
	}
	switch {
	case !wasCertified && report.AgentStatus.Certified:
		s.logger.Info("agent certified", attrs...)
	case wasCertified && !report.AgentStatus.Certified:
		s.logger.Info("agent lost certification", attrs...)
	default:
		s.logger.Debug("test result recorded", attrs...)
	}
	return report, nil
}

// VerifyAgent checks the agent's trust score against minTrustScore.
func (s *Service) VerifyAgent(ctx context.Context, agentID string, minTrustScore float64) (*Verification, error) {
	if err := ValidateRequired("agent_id", agentID); err != nil {
		return nil, err
	}
	if err := ValidateThreshold(minTrustScore); err != nil {
		return nil, err
	}

	v := &Verification{ThresholdRequested: minTrustScore}
	err := s.store.View(ctx, func(tx storage.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if errors.Is(err, storage.ErrNotFound) {
			v.Reason = "Agent not found"
			return nil
		}
		if err != nil {
			return err
		}

		v.Agent = &VerifiedAgent{
			ID:         agent.ID,
			TrustScore: agent.TrustScore,
			Certified:  agent.Certified,
		}
		if agent.TrustScore < minTrustScore {
			v.Reason = fmt.Sprintf("Trust score below threshold: %.2f < %.2f", agent.TrustScore, minTrustScore)
			return nil
		}
		v.Verified = true
		v.Reason = fmt.Sprintf("Trust score meets threshold: %.2f >= %.2f", agent.TrustScore, minTrustScore)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify agent: %w", err)
	}
	return v, nil
}

// ListCertified returns currently certified agents, highest trust score
// first. A non-blank filter keeps agents having a capability whose name
// contains it, ignoring case.
func (s *Service) ListCertified(ctx context.Context, filter string) ([]models.Agent, error) {
	filter = strings.TrimSpace(filter)

	var agents []models.Agent
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		agents, err = tx.ListCertified(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list certified agents: %w", err)
	}
	return nonNil(agents), nil
}

// Ping reports whether the underlying store is reachable. It backs the
// readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
