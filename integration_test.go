package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/certledger/internal/certification"
	"github.com/wagnerlima/certledger/internal/config"
	"github.com/wagnerlima/certledger/internal/models"
	"github.com/wagnerlima/certledger/internal/server"
	"github.com/wagnerlima/certledger/internal/storage"
	"github.com/wagnerlima/certledger/internal/tools"
)

// setupIntegration creates a real MCP server with in-memory transport and returns a connected client session.
func setupIntegration(t *testing.T) (*mcp.ClientSession, func()) {
	t.Helper()

	store, err := storage.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.DiscardHandler)
	metrics, err := tools.NewMetrics(nil)
	if err != nil {
		store.Close()
		t.Fatal(err)
	}
	srv := server.New(certification.New(store, certification.WithLogger(logger)), logger, metrics)

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	_, err = srv.Connect(ctx, serverTransport, nil)
	if err != nil {
		store.Close()
		t.Fatalf("server connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		store.Close()
		t.Fatalf("client connect: %v", err)
	}

	cleanup := func() {
		session.Close()
		store.Close()
	}
	return session, cleanup
}

// callTool is a helper that calls a tool and returns the text content.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, tc.Text)
	}
	return tc.Text
}

// callToolExpectError calls a tool and expects an error payload (IsError=true).
func callToolExpectError(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) tools.ErrorBody {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): protocol error: %v", name, err)
	}
	tc := result.Content[0].(*mcp.TextContent)
	if !result.IsError {
		t.Fatalf("CallTool(%s): expected error but got success: %s", name, tc.Text)
	}
	var payload tools.ErrorPayload
	if err := json.Unmarshal([]byte(tc.Text), &payload); err != nil {
		t.Fatalf("CallTool(%s): parse error payload %q: %v", name, tc.Text, err)
	}
	return payload.Error
}

func reportResult(t *testing.T, session *mcp.ClientSession, agentID, capability, result string) certification.Report {
	t.Helper()
	text := callTool(t, session, "report_test_result", map[string]any{
		"agent_id":   agentID,
		"capability": capability,
		"result":     result,
		"evidence":   "ok",
	})
	var r certification.Report
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		t.Fatalf("parse report_test_result: %v", err)
	}
	return r
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	store, err := openStore(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestIntegration_ListTools(t *testing.T) {
	session, cleanup := setupIntegration(t)
	defer cleanup()

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	expectedTools := []string{
		"query_status", "declare_capability", "report_test_result",
		"verify_agent", "list_verified_agents",
	}

	toolNames := make(map[string]bool)
	for _, tool := range result.Tools {
		toolNames[tool.Name] = true
	}

	for _, name := range expectedTools {
		if !toolNames[name] {
			t.Errorf("Missing tool: %s", name)
		}
	}

	if len(result.Tools) != len(expectedTools) {
		t.Errorf("Expected %d tools, got %d", len(expectedTools), len(result.Tools))
	}
}

func TestIntegration_CertificationWorkflow(t *testing.T) {
	session, cleanup := setupIntegration(t)
	defer cleanup()

	// Scenario A: unknown agent
	text := callTool(t, session, "query_status", map[string]any{"agent_id": "a1"})
	var status struct {
		Found        bool                `json:"found"`
		Agent        *models.Agent       `json:"agent"`
		Capabilities []models.Capability `json:"capabilities"`
		RecentTests  []models.TestResult `json:"recent_tests"`
		Summary      *models.Summary     `json:"summary"`
	}
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatalf("parse query_status: %v", err)
	}
	if status.Found {
		t.Fatal("query_status(a1) found an agent with no rows")
	}

	// Scenario B: four passes then a fail
	for i := 0; i < 4; i++ {
		reportResult(t, session, "a1", "code", "pass")
	}
	r := reportResult(t, session, "a1", "code", "fail")
	if r.AgentStatus.TrustScore != 80 || !r.AgentStatus.Certified {
		t.Fatalf("agent_status = %+v, want 80.00 certified", r.AgentStatus)
	}
	if r.TestResult.ID == "" || r.TestResult.Result != "fail" || r.TestResult.TestedAt.IsZero() {
		t.Errorf("test_result = %+v", r.TestResult)
	}

	text = callTool(t, session, "query_status", map[string]any{"agent_id": "a1"})
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatalf("parse query_status: %v", err)
	}
	if !status.Found || status.Agent.CertifiedAt == nil {
		t.Fatalf("status = %s, want found with certified_at set", text)
	}
	certifiedAt := *status.Agent.CertifiedAt
	if *status.Summary != (models.Summary{Total: 5, Passed: 4, Failed: 1}) {
		t.Errorf("summary = %+v", *status.Summary)
	}

	// Scenario F: verify above the agent's score
	text = callTool(t, session, "verify_agent", map[string]any{"agent_id": "a1", "min_trust_score": 90})
	var v certification.Verification
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		t.Fatalf("parse verify_agent: %v", err)
	}
	if v.Verified || !strings.Contains(v.Reason, "80.00 < 90.00") {
		t.Errorf("verify_agent(90) = %+v", v)
	}
	if v.ThresholdRequested != 90 {
		t.Errorf("threshold_requested = %v, want 90", v.ThresholdRequested)
	}

	// Scenario E: certified but no matching capability yet
	var listed struct {
		Count  int     `json:"count"`
		Filter *string `json:"filter"`
		Agents []struct {
			ID          string     `json:"id"`
			TrustScore  float64    `json:"trust_score"`
			CertifiedAt *time.Time `json:"certified_at"`
		} `json:"agents"`
	}
	text = callTool(t, session, "list_verified_agents", map[string]any{"capability_filter": "code"})
	if err := json.Unmarshal([]byte(text), &listed); err != nil {
		t.Fatalf("parse list_verified_agents: %v", err)
	}
	if listed.Count != 0 {
		t.Errorf("filtered count = %d before declaring a matching capability, want 0", listed.Count)
	}

	callTool(t, session, "declare_capability", map[string]any{
		"agent_id":        "a1",
		"capability_name": "Code-Review",
		"description":     "reviews code",
	})
	text = callTool(t, session, "list_verified_agents", map[string]any{"capability_filter": "code"})
	if err := json.Unmarshal([]byte(text), &listed); err != nil {
		t.Fatalf("parse list_verified_agents: %v", err)
	}
	if listed.Count != 1 || listed.Agents[0].ID != "a1" || listed.Filter == nil || *listed.Filter != "code" {
		t.Errorf("filtered list = %s", text)
	}

	text = callTool(t, session, "list_verified_agents", map[string]any{})
	if err := json.Unmarshal([]byte(text), &listed); err != nil {
		t.Fatalf("parse list_verified_agents: %v", err)
	}
	if listed.Count != 1 || listed.Filter != nil {
		t.Errorf("unfiltered list = %s", text)
	}

	// Scenario C: two more failures drop certification, certified_at stays
	reportResult(t, session, "a1", "code", "fail")
	r = reportResult(t, session, "a1", "code", "fail")
	if r.AgentStatus.TrustScore != 57.14 || r.AgentStatus.Certified {
		t.Fatalf("agent_status = %+v, want 57.14 uncertified", r.AgentStatus)
	}
	text = callTool(t, session, "query_status", map[string]any{"agent_id": "a1"})
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatalf("parse query_status: %v", err)
	}
	if status.Agent.CertifiedAt == nil || !status.Agent.CertifiedAt.Equal(certifiedAt) {
		t.Errorf("certified_at = %v, want %v", status.Agent.CertifiedAt, certifiedAt)
	}

	text = callTool(t, session, "list_verified_agents", map[string]any{})
	if err := json.Unmarshal([]byte(text), &listed); err != nil {
		t.Fatalf("parse list_verified_agents: %v", err)
	}
	if listed.Count != 0 {
		t.Errorf("uncertified agent still listed: %s", text)
	}
}

func TestIntegration_DeclareCapabilityTwice(t *testing.T) {
	session, cleanup := setupIntegration(t)
	defer cleanup()

	// Scenario D
	callTool(t, session, "declare_capability", map[string]any{
		"agent_id": "a1", "capability_name": "nlp", "description": "desc1",
	})
	text := callTool(t, session, "declare_capability", map[string]any{
		"agent_id": "a1", "capability_name": "nlp", "description": "desc2",
	})
	var declared struct {
		AgentID    string            `json:"agent_id"`
		Capability models.Capability `json:"capability"`
	}
	if err := json.Unmarshal([]byte(text), &declared); err != nil {
		t.Fatalf("parse declare_capability: %v", err)
	}
	if declared.Capability.Description != "desc2" {
		t.Errorf("description = %q, want desc2", declared.Capability.Description)
	}

	text = callTool(t, session, "query_status", map[string]any{"agent_id": "a1"})
	var status struct {
		Found        bool                `json:"found"`
		Capabilities []models.Capability `json:"capabilities"`
	}
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatalf("parse query_status: %v", err)
	}
	if !status.Found || len(status.Capabilities) != 1 || status.Capabilities[0].Description != "desc2" {
		t.Errorf("status = %s, want one nlp capability with desc2", text)
	}
}

func TestIntegration_ErrorCases(t *testing.T) {
	session, cleanup := setupIntegration(t)
	defer cleanup()

	errBody := callToolExpectError(t, session, "report_test_result", map[string]any{
		"agent_id": "a1", "capability": "code", "result": "maybe",
	})
	if errBody.Kind != tools.KindInvalidInput {
		t.Errorf("bad outcome kind = %q, want %q", errBody.Kind, tools.KindInvalidInput)
	}

	errBody = callToolExpectError(t, session, "verify_agent", map[string]any{
		"agent_id": "a1", "min_trust_score": 150,
	})
	if errBody.Kind != tools.KindInvalidInput || !strings.Contains(errBody.Message, "min_trust_score") {
		t.Errorf("out of range threshold = %+v", errBody)
	}

	errBody = callToolExpectError(t, session, "declare_capability", map[string]any{
		"agent_id": "a1", "capability_name": "  ", "description": "",
	})
	if errBody.Kind != tools.KindInvalidInput {
		t.Errorf("blank capability kind = %q, want %q", errBody.Kind, tools.KindInvalidInput)
	}

	// Rejected input never creates the agent
	text := callTool(t, session, "query_status", map[string]any{"agent_id": "a1"})
	if !strings.Contains(text, `"found": false`) {
		t.Errorf("agent created by rejected calls: %s", text)
	}

	// Unknown agents are a normal result for verify_agent
	text = callTool(t, session, "verify_agent", map[string]any{"agent_id": "ghost", "min_trust_score": 0})
	if !strings.Contains(text, "Agent not found") || !strings.Contains(text, `"verified": false`) {
		t.Errorf("verify unknown agent = %s", text)
	}
}
