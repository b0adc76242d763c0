package tools

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/certledger/internal/certification"
	"github.com/wagnerlima/certledger/internal/models"
)

// CertificationTools holds references needed by the certification tool handlers.
type CertificationTools struct {
	Service *certification.Service
	Logger  *slog.Logger
	Metrics *Metrics
}

type QueryStatusInput struct {
	AgentID string `json:"agent_id" jsonschema:"Agent identifier"`
}

func (in QueryStatusInput) Validate() error {
	return certification.ValidateRequired("agent_id", in.AgentID)
}

type DeclareCapabilityInput struct {
	AgentID        string `json:"agent_id" jsonschema:"Agent identifier (created on first use)"`
	CapabilityName string `json:"capability_name" jsonschema:"Capability name, unique per agent"`
	Description    string `json:"description" jsonschema:"What the capability covers"`
}

func (in DeclareCapabilityInput) Validate() error {
	if err := certification.ValidateRequired("agent_id", in.AgentID); err != nil {
		return err
	}
	return certification.ValidateRequired("capability_name", in.CapabilityName)
}

type ReportTestResultInput struct {
	AgentID    string `json:"agent_id" jsonschema:"Agent identifier (created on first use)"`
	Capability string `json:"capability" jsonschema:"Name of the capability that was tested"`
	Result     string `json:"result" jsonschema:"Test outcome: pass or fail"`
	Evidence   string `json:"evidence,omitempty" jsonschema:"Evidence supporting the outcome (strongly recommended)"`
}

func (in ReportTestResultInput) Validate() error {
	if err := certification.ValidateRequired("agent_id", in.AgentID); err != nil {
		return err
	}
	if err := certification.ValidateRequired("capability", in.Capability); err != nil {
		return err
	}
	return certification.ValidateOutcome(in.Result)
}

type VerifyAgentInput struct {
	AgentID       string  `json:"agent_id" jsonschema:"Agent identifier"`
	MinTrustScore float64 `json:"min_trust_score" jsonschema:"Minimum trust score required, 0 to 100"`
}

func (in VerifyAgentInput) Validate() error {
	if err := certification.ValidateRequired("agent_id", in.AgentID); err != nil {
		return err
	}
	return certification.ValidateThreshold(in.MinTrustScore)
}

type ListVerifiedAgentsInput struct {
	CapabilityFilter string `json:"capability_filter,omitempty" jsonschema:"Only agents with a capability whose name contains this text (case-insensitive)"`
}

type agentNotFound struct {
	Found   bool   `json:"found"`
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

type declaredCapability struct {
	AgentID    string             `json:"agent_id"`
	Capability *models.Capability `json:"capability"`
}

type listedAgent struct {
	ID          string     `json:"id"`
	TrustScore  float64    `json:"trust_score"`
	CertifiedAt *time.Time `json:"certified_at"`
}

type verifiedAgents struct {
	Count  int           `json:"count"`
	Filter *string       `json:"filter"`
	Agents []listedAgent `json:"agents"`
}

func (t *CertificationTools) QueryStatus(ctx context.Context, _ *mcp.CallToolRequest, input QueryStatusInput) (*mcp.CallToolResult, any, error) {
	if err := input.Validate(); err != nil {
		return t.fail(ctx, "query_status", err), nil, nil
	}

	st, err := t.Service.QueryStatus(ctx, input.AgentID)
	if err != nil {
		return t.fail(ctx, "query_status", err), nil, nil
	}
	t.Metrics.recordCall(ctx, "query_status", "ok")

	if !st.Found {
		return toolJSON(agentNotFound{AgentID: input.AgentID, Message: "Agent not found"})
	}
	return toolJSON(st)
}

func (t *CertificationTools) DeclareCapability(ctx context.Context, _ *mcp.CallToolRequest, input DeclareCapabilityInput) (*mcp.CallToolResult, any, error) {
	if err := input.Validate(); err != nil {
		return t.fail(ctx, "declare_capability", err), nil, nil
	}

	c, err := t.Service.DeclareCapability(ctx, input.AgentID, input.CapabilityName, input.Description)
	if err != nil {
		return t.fail(ctx, "declare_capability", err), nil, nil
	}
	t.Metrics.recordCall(ctx, "declare_capability", "ok")

	return toolJSON(declaredCapability{AgentID: input.AgentID, Capability: c})
}

func (t *CertificationTools) ReportTestResult(ctx context.Context, _ *mcp.CallToolRequest, input ReportTestResultInput) (*mcp.CallToolResult, any, error) {
	if err := input.Validate(); err != nil {
		return t.fail(ctx, "report_test_result", err), nil, nil
	}

	r, err := t.Service.ReportTestResult(ctx, input.AgentID, input.Capability, input.Result, input.Evidence)
	if err != nil {
		return t.fail(ctx, "report_test_result", err), nil, nil
	}
	t.Metrics.recordCall(ctx, "report_test_result", "ok")
	t.Metrics.recordScore(ctx, r.AgentStatus.TrustScore, r.AgentStatus.Certified)

	return toolJSON(r)
}

func (t *CertificationTools) VerifyAgent(ctx context.Context, _ *mcp.CallToolRequest, input VerifyAgentInput) (*mcp.CallToolResult, any, error) {
	if err := input.Validate(); err != nil {
		return t.fail(ctx, "verify_agent", err), nil, nil
	}

	v, err := t.Service.VerifyAgent(ctx, input.AgentID, input.MinTrustScore)
	if err != nil {
		return t.fail(ctx, "verify_agent", err), nil, nil
	}
	t.Metrics.recordCall(ctx, "verify_agent", "ok")

	return toolJSON(v)
}

func (t *CertificationTools) ListVerifiedAgents(ctx context.Context, _ *mcp.CallToolRequest, input ListVerifiedAgentsInput) (*mcp.CallToolResult, any, error) {
	filter := strings.TrimSpace(input.CapabilityFilter)

	agents, err := t.Service.ListCertified(ctx, filter)
	if err != nil {
		return t.fail(ctx, "list_verified_agents", err), nil, nil
	}
	t.Metrics.recordCall(ctx, "list_verified_agents", "ok")

	out := verifiedAgents{Count: len(agents), Agents: make([]listedAgent, 0, len(agents))}
	if filter != "" {
		out.Filter = &filter
	}
	for _, a := range agents {
		out.Agents = append(out.Agents, listedAgent{ID: a.ID, TrustScore: a.TrustScore, CertifiedAt: a.CertifiedAt})
	}
	return toolJSON(out)
}

// fail logs and counts a failed call and returns its error payload.
func (t *CertificationTools) fail(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	kind := ErrorKind(err)
	t.Metrics.recordCall(ctx, tool, kind)
	if t.Logger != nil {
		level := slog.LevelWarn
		if kind != KindInvalidInput {
			level = slog.LevelError
		}
		t.Logger.Log(ctx, level, "tool call failed", "tool", tool, "kind", kind, "err", err)
	}
	return toolFailure(err)
}
