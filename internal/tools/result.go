package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/certledger/internal/certification"
	"github.com/wagnerlima/certledger/internal/storage"
)

// Error kinds reported in failure payloads.
const (
	KindInvalidInput        = "invalid_input"
	KindStorageUnavailable  = "storage_unavailable"
	KindConstraintViolation = "constraint_violation"
	KindInternal            = "internal"
)

// ErrorPayload is the body of every failed tool call.
type ErrorPayload struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorKind maps an error to its payload kind.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, certification.ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, storage.ErrConstraint):
		return KindConstraintViolation
	case errors.Is(err, storage.ErrUnavailable):
		return KindStorageUnavailable
	default:
		return KindInternal
	}
}

func toolFailure(err error) *mcp.CallToolResult {
	payload := ErrorPayload{Error: ErrorBody{Kind: ErrorKind(err), Message: err.Error()}}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return toolError("%v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
