package provider

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// WebSearchToolName is the only tool the relay declares to providers.
const WebSearchToolName = "web_search"

// searchArgsSchemaJSON is both the parameter declaration sent to providers
// and the schema the gateway validates returned arguments against.
const searchArgsSchemaJSON = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"minLength": 1,
			"description": "The search keywords or phrase"
		}
	},
	"required": ["query"],
	"additionalProperties": false
}`

var searchArgsSchema = jsonschema.MustCompileString("web_search_args.json", searchArgsSchemaJSON)

// searchToolSpecs declares the web_search tool for a completion call.
func searchToolSpecs() []toolSpec {
	return []toolSpec{{
		Type: "function",
		Function: toolFunction{
			Name:        WebSearchToolName,
			Description: "Search the web for up-to-date information. Use when the user asks about current events or facts you are unsure of.",
			Parameters:  json.RawMessage(searchArgsSchemaJSON),
		},
	}}
}

// parseSearchArgs extracts the query from a tool call's argument payload,
// validating it against the declared schema. Models occasionally emit
// malformed argument JSON; callers must treat an error here as a soft
// failure and feed a textual tool result back instead of aborting the turn.
func parseSearchArgs(raw string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", fmt.Errorf("decode tool arguments: %w", err)
	}
	if err := searchArgsSchema.Validate(v); err != nil {
		return "", fmt.Errorf("validate tool arguments: %w", err)
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "", fmt.Errorf("decode tool arguments: %w", err)
	}
	return args.Query, nil
}
