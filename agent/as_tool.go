package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/reagent/tool"
)

// AsTool exposes the agent as a tool taking a single "prompt" argument, so a
// parent agent can delegate to it. The nested agent keeps its own history;
// concurrent calls from one turn are serialized by the agent's invoke lock.
// An empty description falls back to the agent description.
func (a *Agent) AsTool(description string) tool.Tool {
	if description == "" {
		description = a.description
	}

	return tool.NewFunctionTool(a.name, description, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("The request for %s", a.name),
			},
		},
		"required": []string{"prompt"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		prompt, _ := args["prompt"].(string)
		msg, err := a.Invoke(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return msg.Content, nil
	}).WithLogger(a.logger)
}
