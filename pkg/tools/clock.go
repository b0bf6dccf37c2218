package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
)

// Clock returns the built-in clock tool, which reports the current time,
// optionally in a named IANA timezone. It exists so the tool loop can be
// exercised end to end without any external service.
func Clock() Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        "clock",
			Description: "Returns the current date and time, optionally in a specific timezone.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"timezone": {
						"type": "string",
						"description": "IANA timezone name, e.g. America/New_York. Defaults to UTC."
					}
				}
			}`),
		},
		Execute: func(_ context.Context, argumentsJSON string) (string, error) {
			var args struct {
				Timezone string `json:"timezone"`
			}
			if argumentsJSON != "" {
				if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
					return "", fmt.Errorf("parsing clock arguments: %w", err)
				}
			}

			loc := time.UTC
			if args.Timezone != "" {
				var err error
				loc, err = time.LoadLocation(args.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", args.Timezone)
				}
			}

			return time.Now().In(loc).Format(time.RFC1123), nil
		},
	}
}
