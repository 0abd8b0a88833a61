// Package mcp connects to Model Context Protocol servers over stdio and
// exposes their tools as tool.Tool values.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hupe1980/recallmesh/logging"
)

// DefaultProtocolVersion is sent during the initialize handshake.
const DefaultProtocolVersion = "2024-11-05"

// ErrClosed is returned for calls on a closed client.
var ErrClosed = errors.New("mcp: client closed")

// ClientOptions configure a Client.
type ClientOptions struct {
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
	Logger          logging.Logger
}

// StdioOptions describe the server process to launch.
type StdioOptions struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// RemoteTool is a tool advertised by tools/list.
type RemoteTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ContentBlock is one element of a tools/call result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the result of tools/call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message) }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// rpcMessage is any line read from the server: a response to one of our
// calls, a notification, or a request the server sends to us.
type rpcMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type callResult struct {
	resp rpcResponse
	err  error
}

// Client speaks JSON-RPC 2.0 over a newline delimited stream.
type Client struct {
	w      io.WriteCloser
	opts   ClientOptions
	logger logging.Logger
	cmd    *exec.Cmd

	pendingMu sync.Mutex
	pending   map[uint64]chan callResult
	nextID    uint64

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Launch starts the server command, wires its stdio and performs the
// initialize handshake.
func Launch(ctx context.Context, so StdioOptions, optFns ...func(o *ClientOptions)) (*Client, error) {
	if so.Command == "" {
		return nil, errors.New("mcp: command is required")
	}

	cmd := exec.CommandContext(ctx, so.Command, so.Args...)
	cmd.Dir = so.Dir

	if len(so.Env) > 0 {
		cmd.Env = append(os.Environ(), so.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe: %w", err)
	}

	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start %s: %w", so.Command, err)
	}

	c := NewClient(stdout, stdin, optFns...)
	c.cmd = cmd

	if err := c.Initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// NewClient creates a client reading responses from r and writing requests
// to w. Call Initialize before using it.
func NewClient(r io.Reader, w io.WriteCloser, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		ProtocolVersion: DefaultProtocolVersion,
		ClientName:      "recallmesh",
		ClientVersion:   "dev",
		InitTimeout:     30 * time.Second,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Client{
		w:       w,
		opts:    opts,
		logger:  opts.Logger,
		pending: map[uint64]chan callResult{},
		closed:  make(chan struct{}),
	}

	go c.readLoop(r)

	return c
}

// Initialize performs the MCP handshake.
func (c *Client) Initialize(ctx context.Context) error {
	if c.opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.InitTimeout)
		defer cancel()
	}

	params := map[string]any{
		"protocolVersion": c.opts.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": c.opts.ClientName, "version": c.opts.ClientVersion},
	}

	var res struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}

	if err := c.call(ctx, "initialize", params, &res); err != nil {
		return fmt.Errorf("mcp: initialize: %w", err)
	}

	c.logger.Info("mcp.initialized", "server", res.ServerInfo.Name, "server_version", res.ServerInfo.Version, "protocol", res.ProtocolVersion)

	return c.write(rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
}

// ListTools returns every tool advertised by the server, following cursors.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	var (
		tools  []RemoteTool
		cursor string
	)

	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var res struct {
			Tools      []RemoteTool `json:"tools"`
			NextCursor string       `json:"nextCursor,omitempty"`
		}

		if err := c.call(ctx, "tools/list", params, &res); err != nil {
			return nil, fmt.Errorf("mcp: tools/list: %w", err)
		}

		tools = append(tools, res.Tools...)

		if res.NextCursor == "" {
			return tools, nil
		}

		cursor = res.NextCursor
	}
}

// CallTool invokes tools/call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}

	var res CallResult
	if err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &res); err != nil {
		return nil, fmt.Errorf("mcp: tools/call %s: %w", name, err)
	}

	return &res, nil
}

// Close shuts down the stream and the server process, if any.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.w.Close()

		if c.cmd != nil {
			if c.cmd.ProcessState == nil && c.cmd.Process != nil {
				_ = c.cmd.Process.Kill()
			}

			_ = c.cmd.Wait()
		}

		close(c.closed)
	})

	return nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	ch := make(chan callResult, 1)

	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.removePending(id)
		return err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}

		if res.resp.Error != nil {
			return res.resp.Error
		}

		if result != nil && len(res.resp.Result) > 0 {
			return json.Unmarshal(res.resp.Result, result)
		}

		return nil
	case <-ctx.Done():
		c.removePending(id)
		return ctx.Err()
	case <-c.closed:
		return c.closeError()
	}
}

func (c *Client) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return c.closeError()
	default:
	}

	_, err = c.w.Write(data)

	return err
}

func (c *Client) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Debug("mcp.read.skip", "error", err)
			continue
		}

		if msg.Method != "" {
			c.handleServerMessage(msg)
			continue
		}

		var id uint64
		if err := json.Unmarshal(msg.ID, &id); err != nil || id == 0 {
			c.logger.Debug("mcp.read.skip", "id", string(msg.ID))
			continue
		}

		resp := rpcResponse{ID: id, Result: msg.Result, Error: msg.Error}

		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.pendingMu.Unlock()

		if ok {
			ch <- callResult{resp: resp}
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}

	c.failPending(err)
}

// handleServerMessage answers requests the server sends to the client.
// Notifications are dropped. Only ping is supported; anything else gets
// method not found.
func (c *Client) handleServerMessage(msg rpcMessage) {
	if len(msg.ID) == 0 || string(msg.ID) == "null" {
		c.logger.Debug("mcp.notification", "method", msg.Method)
		return
	}

	reply := rpcReply{JSONRPC: "2.0", ID: msg.ID}
	if msg.Method == "ping" {
		reply.Result = struct{}{}
	} else {
		reply.Error = &RPCError{Code: -32601, Message: "method not found: " + msg.Method}
	}

	// The read loop must not block on the write side of the stream.
	go func() {
		if err := c.write(reply); err != nil {
			c.logger.Debug("mcp.reply.failed", "method", msg.Method, "error", err)
		}
	}()
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- callResult{err: err}
	}

	if c.closeErr == nil {
		c.closeErr = err
	}
	c.pendingMu.Unlock()

	_ = c.Close()
}

func (c *Client) removePending(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) closeError() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.closeErr == nil {
		return ErrClosed
	}

	return fmt.Errorf("%w: %v", ErrClosed, c.closeErr)
}
