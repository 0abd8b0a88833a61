package tool

import (
	"strings"

	"github.com/hupe1980/recallmesh/core"
)

// TransferToAgentToolName is the name of the hand-off tool.
const TransferToAgentToolName = "transfer_to_agent"

type transferArgs struct {
	Agent string `json:"agent" description:"Name of the agent that should take over"`
}

// NewTransferToAgentTool returns the hand-off tool. Calling it records the
// target on the tool context; the model agent hands off to that sub-agent
// after the function response has been emitted.
func NewTransferToAgentTool() Tool {
	return NewTypedTool(TransferToAgentToolName,
		"Transfer the conversation to another agent by name when it is better suited to answer.",
		func(tc *core.ToolContext, args transferArgs) (any, error) {
			target := strings.TrimSpace(args.Agent)
			if target == "" {
				return nil, NewToolError(TransferToAgentToolName, "agent must be a non-empty name", CodeValidation)
			}

			tc.TransferToAgent(target)

			return map[string]any{"transferred": true, "agent": target}, nil
		})
}
