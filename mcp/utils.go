package mcp

import (
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// jsonResult returns v as structuredContent and as text content.
func jsonResult(v interface{}) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}

	var structured interface{}
	if err := json.Unmarshal(data, &structured); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured content: %w", err)
	}

	return &mcpsdk.CallToolResult{
		StructuredContent: structured,
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult reports a tool failure to the caller. Tool failures are
// results, not protocol errors.
func errorResult(message string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: message},
		},
	}
}

// parseArguments decodes raw tool arguments into a map. Missing or
// malformed arguments yield an empty map.
func parseArguments(raw json.RawMessage) map[string]interface{} {
	args := make(map[string]interface{})
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return make(map[string]interface{})
	}
	return args
}

// intArgument reads a numeric argument, clamped to [1, ceiling].
func intArgument(args map[string]interface{}, name string, def, ceiling int) int {
	value, ok := args[name].(float64)
	if !ok {
		return def
	}
	n := int(value)
	if n < 1 {
		return 1
	}
	if n > ceiling {
		return ceiling
	}
	return n
}
