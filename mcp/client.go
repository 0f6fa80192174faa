package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	oasis "github.com/nevindra/runcore"
)

// Client speaks the client side of the same newline-delimited JSON-RPC
// protocol Server implements, against a subprocess MCP server reached over
// its stdin/stdout.
type Client struct {
	serverName string
	cmd        *exec.Cmd
	stdin      io.WriteCloser

	nextID int64

	mu      sync.Mutex
	pending map[string]chan rpcResult
	closed  bool
	done    chan struct{}
}

type rpcResult struct {
	result json.RawMessage
	err    *rpcError
}

// Dial spawns command (with args) as a subprocess MCP server, performs the
// initialize handshake, and starts the background reader goroutine. name
// identifies the server for tool namespacing (mcp.<name>.<tool>).
func Dial(ctx context.Context, name, command string, args []string) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &oasis.SpawnFailedError{Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &oasis.SpawnFailedError{Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &oasis.SpawnFailedError{Cause: err}
	}

	c := &Client{
		serverName: name,
		cmd:        cmd,
		stdin:      stdin,
		pending:    make(map[string]chan rpcResult),
		done:       make(chan struct{}),
	}
	go c.readLoop(stdout)

	if _, err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "runcore", Version: "0.1"},
	}); err != nil {
		c.Close()
		return nil, err
	}
	_ = c.notify("notifications/initialized", nil)
	return c, nil
}

// ServerName returns the name this client was dialed with.
func (c *Client) ServerName() string { return c.serverName }

func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		id := string(resp.ID)
		c.mu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if ok {
			ch <- rpcResult{result: marshalResult(resp.Result), err: resp.Error}
		}
	}
	close(c.done)
}

func marshalResult(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := strconv.FormatInt(atomic.AddInt64(&c.nextID, 1), 10)
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal params: %w", err)
	}
	req := request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(id),
		Method:  method,
		Params:  paramsBytes,
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal request: %w", err)
	}

	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &oasis.ConnectionError{Reason: "client closed"}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &oasis.ConnectionError{Reason: err.Error()}
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &oasis.ConnectionError{Reason: r.err.Message}
		}
		return r.result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &oasis.MCPTimeoutError{}
	case <-c.done:
		return nil, &oasis.ConnectionError{Reason: "server process exited"}
	}
}

func (c *Client) notify(method string, params any) error {
	var paramsBytes json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		paramsBytes = b
	}
	req := request{JSONRPC: "2.0", Method: method, Params: paramsBytes}
	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.stdin.Write(append(line, '\n'))
	return err
}

// ListTools lists the tools the server exposes, namespaced mcp.<server>.<raw>.
// It never returns an error: a failed listing logs mcp.list_tools.failed via
// logFn (if non-nil) and degrades to an empty list, so one misbehaving MCP
// server never blocks catalog resolution for the rest.
func (c *Client) ListTools(ctx context.Context, logFn func(msg string, args ...any)) []ToolDefinition {
	result, err := c.call(ctx, "tools/list", struct{}{})
	if err != nil {
		if logFn != nil {
			logFn("mcp.list_tools.failed", "server", c.serverName, "error", err)
		}
		return nil
	}
	var parsed toolsListResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		if logFn != nil {
			logFn("mcp.list_tools.failed", "server", c.serverName, "error", err)
		}
		return nil
	}
	return parsed.Tools
}

// CallTool invokes rawName (without the mcp.<server>. prefix) with args.
func (c *Client) CallTool(ctx context.Context, rawName string, args json.RawMessage) (ToolCallResult, error) {
	result, err := c.call(ctx, "tools/call", toolCallParams{Name: rawName, Arguments: args})
	if err != nil {
		return ToolCallResult{}, err
	}
	var out ToolCallResult
	if err := json.Unmarshal(result, &out); err != nil {
		return ToolCallResult{}, fmt.Errorf("mcp: decode tools/call result: %w", err)
	}
	return out, nil
}

// Close terminates the subprocess, giving it 2s to exit after stdin is
// closed before sending SIGKILL. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	_ = c.stdin.Close()

	exited := make(chan error, 1)
	go func() { exited <- c.cmd.Wait() }()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		_ = c.cmd.Process.Kill()
		select {
		case <-exited:
		case <-time.After(time.Second):
		}
	}
	return nil
}
