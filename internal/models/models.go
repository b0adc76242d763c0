package models

import "time"

// Test outcomes.
const (
	OutcomePass = "pass"
	OutcomeFail = "fail"
)

// Agent is a certified entity and its derived trust state.
type Agent struct {
	ID          string     `json:"id"`
	TrustScore  float64    `json:"trust_score"`
	Certified   bool       `json:"certified"`
	CertifiedAt *time.Time `json:"certified_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Capability is a named skill an agent claims to have.
type Capability struct {
	AgentID     string    `json:"-"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	DeclaredAt  time.Time `json:"declared_at"`
}

// TestResult is one immutable piece of test evidence.
type TestResult struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"-"`
	Capability string    `json:"capability"`
	Result     string    `json:"result"`
	Evidence   string    `json:"evidence,omitempty"`
	TestedAt   time.Time `json:"tested_at"`
}

// Summary aggregates an agent's entire test history.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// ValidOutcome reports whether s is a recognized test outcome.
func ValidOutcome(s string) bool {
	return s == OutcomePass || s == OutcomeFail
}
