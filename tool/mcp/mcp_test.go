package mcp

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/artifact"
	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/tool"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// fakeServer answers requests read from in on out until in is closed.
func fakeServer(t *testing.T, in io.Reader, out io.WriteCloser) {
	t.Helper()

	defer out.Close()

	scanner := bufio.NewScanner(in)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		var req struct {
			ID     uint64         `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			t.Errorf("bad request: %v", err)
			return
		}

		if req.ID == 0 {
			continue
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}

		switch req.Method {
		case "initialize":
			resp["result"] = map[string]any{
				"protocolVersion": DefaultProtocolVersion,
				"serverInfo":      map[string]any{"name": "fake", "version": "1"},
			}
		case "tools/list":
			if req.Params["cursor"] == nil {
				resp["result"] = map[string]any{
					"tools":      []map[string]any{{"name": "echo", "description": "Echoes text", "inputSchema": map[string]any{"type": "object"}}},
					"nextCursor": "page2",
				}
			} else {
				resp["result"] = map[string]any{
					"tools": []map[string]any{{"name": "getTinyImage", "description": "Returns an image"}},
				}
			}
		case "tools/call":
			args, _ := req.Params["arguments"].(map[string]any)

			switch req.Params["name"] {
			case "echo":
				resp["result"] = map[string]any{"content": []map[string]any{{"type": "text", "text": "echo: " + args["text"].(string)}}}
			case "getTinyImage":
				resp["result"] = map[string]any{"content": []map[string]any{
					{"type": "text", "text": "tiny image:"},
					{"type": "image", "data": base64.StdEncoding.EncodeToString(pngBytes), "mimeType": "image/png"},
				}}
			default:
				resp["result"] = map[string]any{"content": []map[string]any{{"type": "text", "text": "unknown tool"}}, "isError": true}
			}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}

		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	go fakeServer(t, serverReader, serverWriter)

	c := NewClient(clientReader, clientWriter)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Initialize(context.Background()))

	return c
}

func newToolContext(store core.ArtifactStore) *core.ToolContext {
	key := core.SessionKey{AppName: "app", UserID: "u1", ID: "s1"}
	runCtx := core.NewRunContext(context.Background(), key, "run-1", func(o *core.RunContextOptions) {
		o.ArtifactStore = store
	})

	return core.NewToolContext(runCtx, "fc1")
}

func TestClient_ListToolsFollowsCursor(t *testing.T) {
	c := newTestClient(t)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "getTinyImage", tools[1].Name)
}

func TestClient_RPCError(t *testing.T) {
	c := newTestClient(t)

	err := c.call(context.Background(), "resources/list", nil, nil)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestClient_AnswersServerRequests(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	c := NewClient(clientReader, clientWriter)
	t.Cleanup(func() { _ = c.Close() })

	replies := make(chan map[string]any, 2)

	go func() {
		defer serverWriter.Close()

		scanner := bufio.NewScanner(serverReader)
		enc := json.NewEncoder(serverWriter)

		if !scanner.Scan() {
			return
		}

		var call struct {
			ID uint64 `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &call); err != nil {
			return
		}

		// Server requests arrive before the answer, one reusing the call id.
		_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "id": call.ID, "method": "ping"})
		_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "id": "srv-1", "method": "sampling/createMessage"})
		_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "method": "notifications/message"})

		for range 2 {
			if !scanner.Scan() {
				return
			}

			var reply map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &reply); err == nil {
				replies <- reply
			}
		}

		_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "id": call.ID, "result": map[string]any{
			"content": []map[string]any{{"type": "text", "text": "echo: hi"}},
		}})
	}()

	res, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "echo: hi", res.Content[0].Text)

	byID := map[string]map[string]any{}
	for range 2 {
		r := <-replies
		byID[fmt.Sprint(r["id"])] = r
	}

	assert.Equal(t, map[string]any{}, byID["1"]["result"])
	assert.NotContains(t, byID["1"], "error")

	rpcErr, ok := byID["srv-1"]["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(-32601), rpcErr["code"])
}

func TestClient_ClosedCallFails(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Close())

	_, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestToolset(t *testing.T) {
	c := newTestClient(t)
	store := artifact.NewInMemoryStore()

	ts, err := NewToolset(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, ts.Tools(), 2)

	byName := map[string]tool.Tool{}
	for _, tl := range ts.Tools() {
		byName[tl.Name()] = tl
	}

	t.Run("text result", func(t *testing.T) {
		echo := byName["echo"]
		assert.Equal(t, "Echoes text", echo.Description())

		out, err := echo.Call(newToolContext(store), map[string]any{"text": "hi"})
		require.NoError(t, err)
		assert.Equal(t, "echo: hi", out)
	})

	t.Run("image becomes artifact", func(t *testing.T) {
		tc := newToolContext(store)
		img := byName["getTinyImage"]
		assert.Equal(t, "object", img.Parameters()["type"])

		out, err := img.Call(tc, nil)
		require.NoError(t, err)
		assert.Contains(t, out, "tiny image:")
		assert.Contains(t, out, "getTinyImage_fc1_1.png")
		assert.NotContains(t, out, base64.StdEncoding.EncodeToString(pngBytes))

		assert.Equal(t, 1, tc.Actions().ArtifactDelta["getTinyImage_fc1_1.png"])

		data, err := store.Load(context.Background(), tc.Key(), "getTinyImage_fc1_1.png", 0)
		require.NoError(t, err)
		assert.Equal(t, pngBytes, data)
	})
}

func TestToolset_Filter(t *testing.T) {
	c := newTestClient(t)

	ts, err := NewToolset(context.Background(), c, func(o *ToolsetOptions) { o.Filter = []string{"echo"} })
	require.NoError(t, err)
	require.Len(t, ts.Tools(), 1)
	assert.Equal(t, "echo", ts.Tools()[0].Name())
}

func TestToolset_ServerErrorIsToolError(t *testing.T) {
	c := newTestClient(t)

	rt := &remoteTool{client: c, def: RemoteTool{Name: "missing"}}
	_, err := rt.Call(newToolContext(nil), map[string]any{})

	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeExecution, toolErr.Code)
	assert.Equal(t, "unknown tool", toolErr.Message)
}
