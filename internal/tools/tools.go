// Package tools wires the registry clients into MCP servers.
package tools

import (
	"encoding/json"

	"github.com/itchyny/gojq"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sdesani/mcp-server-collection/internal/output"
)

// queryArgDescription documents the optional gojq filter shared by all tools.
const queryArgDescription = "Optional jq expression applied to the result data, " +
	"for trimming large payloads (e.g. '.results[].basic')"

// toolResult renders the envelope as the tool's text payload. Tool failures
// are reported inside the envelope, never as protocol errors, so a failed
// invocation cannot take the server down.
func toolResult(res *output.Result) (*mcp.CallToolResult, error) {
	s, err := res.JSON()
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(s), nil
}

// successResult envelopes data, applying an optional jq filter first.
func successResult(data any, message, query string) (*mcp.CallToolResult, error) {
	filtered, err := applyQuery(data, query)
	if err != nil {
		return toolResult(output.Err(err, "Invalid query expression"))
	}
	return toolResult(output.OK(filtered, message))
}

// applyQuery runs a gojq expression over data. Data is normalized through a
// JSON round-trip so raw upstream payloads and typed structs both work.
func applyQuery(data any, query string) (any, error) {
	if query == "" {
		return data, nil
	}

	q, err := gojq.Parse(query)
	if err != nil {
		return nil, output.ErrValidationHint("Invalid query expression", err.Error())
	}

	normalized, err := normalizeData(data)
	if err != nil {
		return nil, err
	}

	var out []any
	iter := q.Run(normalized)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if qerr, isErr := v.(error); isErr {
			return nil, output.ErrValidationHint("Query evaluation failed", qerr.Error())
		}
		out = append(out, v)
	}

	// A single output unwraps; multiple outputs come back as an array.
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

// normalizeData converts any JSON-marshalable value to plain decoded form
// (map[string]any, []any, ...), which is what gojq operates on.
func normalizeData(data any) (any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
