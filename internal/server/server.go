package server

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/certledger/internal/certification"
	"github.com/wagnerlima/certledger/internal/tools"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// New creates a fully configured MCP server with all tools registered.
func New(svc *certification.Service, logger *slog.Logger, metrics *tools.Metrics) *mcp.Server {
	ct := &tools.CertificationTools{Service: svc, Logger: logger, Metrics: metrics}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "certledger",
		Version: Version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "query_status",
		Description: "Get an agent's trust score, certification, capabilities, 10 most recent test results and test summary",
	}, ct.QueryStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "declare_capability",
		Description: "Declare (or update the description of) a capability an agent claims to have",
	}, ct.DeclareCapability)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "report_test_result",
		Description: "Record a pass/fail test result for an agent and recompute its trust score and certification",
	}, ct.ReportTestResult)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "verify_agent",
		Description: "Check whether an agent's trust score meets a minimum threshold (0-100)",
	}, ct.VerifyAgent)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_verified_agents",
		Description: "List currently certified agents by trust score, optionally filtered by capability name substring",
	}, ct.ListVerifiedAgents)

	return srv
}
