package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"slices"
	"strings"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/tool"
)

// ToolsetOptions configure NewToolset.
type ToolsetOptions struct {
	// Filter restricts the exposed tools to these names (all when empty).
	Filter []string
}

// Toolset exposes the tools of one MCP server.
type Toolset struct {
	client *Client
	tools  []tool.Tool
}

// NewToolset lists the server's tools and wraps each one as a tool.Tool.
func NewToolset(ctx context.Context, client *Client, optFns ...func(o *ToolsetOptions)) (*Toolset, error) {
	opts := ToolsetOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	remote, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	ts := &Toolset{client: client}

	for _, rt := range remote {
		if len(opts.Filter) > 0 && !slices.Contains(opts.Filter, rt.Name) {
			continue
		}

		ts.tools = append(ts.tools, &remoteTool{client: client, def: rt})
	}

	return ts, nil
}

// Tools returns the wrapped tools.
func (ts *Toolset) Tools() []tool.Tool { return slices.Clone(ts.tools) }

// Close closes the underlying client.
func (ts *Toolset) Close() error { return ts.client.Close() }

type remoteTool struct {
	client *Client
	def    RemoteTool
}

func (t *remoteTool) Name() string        { return t.def.Name }
func (t *remoteTool) Description() string { return t.def.Description }

func (t *remoteTool) Parameters() map[string]any {
	if t.def.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return t.def.InputSchema
}

// Call forwards the call to the server. Image blocks are stored as session
// artifacts and replaced by a text reference.
func (t *remoteTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	res, err := t.client.CallTool(tc.Context(), t.def.Name, args)
	if err != nil {
		return nil, &tool.ToolError{Tool: t.def.Name, Message: err.Error(), Code: tool.CodeExecution}
	}

	var parts []string

	for i, block := range res.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		case "image":
			ref, err := saveImage(tc, t.def.Name, i, block)
			if err != nil {
				return nil, &tool.ToolError{Tool: t.def.Name, Message: err.Error(), Code: tool.CodeExecution}
			}

			parts = append(parts, ref)
		default:
			tc.LogDebug("mcp.content.skip", "tool", t.def.Name, "type", block.Type)
		}
	}

	text := strings.Join(parts, "\n")

	if res.IsError {
		return nil, &tool.ToolError{Tool: t.def.Name, Message: text, Code: tool.CodeExecution}
	}

	return text, nil
}

func saveImage(tc *core.ToolContext, toolName string, index int, block ContentBlock) (string, error) {
	data, err := base64.StdEncoding.DecodeString(block.Data)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	ext := ".bin"
	if exts, _ := mime.ExtensionsByType(block.MimeType); len(exts) > 0 {
		ext = exts[0]
	}

	name := fmt.Sprintf("%s_%s_%d%s", toolName, tc.FunctionCallID(), index, ext)

	version, err := tc.SaveArtifact(name, data)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("[image saved as artifact %q version %d (%s, %d bytes)]", name, version, block.MimeType, len(data)), nil
}
