package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/stdiomux/internal/errors"
)

// Method names on the wire.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// maxToolPages bounds tools/list pagination against a backend that keeps
// returning a cursor.
const maxToolPages = 100

// Caller is the correlation surface the helpers drive. It is satisfied by
// *protocol.Controller.
type Caller interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
}

// InitializeParams is the initialize request body. Capabilities is a plain
// map so that any capability name can be declared.
type InitializeParams struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    map[string]any      `json:"capabilities"`
	ClientInfo      *mcp.Implementation `json:"clientInfo"`
}

// HandshakeRequest describes the client side of the handshake.
type HandshakeRequest struct {
	ProtocolVersion string
	Capabilities    []string
	ClientName      string
	ClientVersion   string
}

// NewInitializeParams builds the initialize body, declaring each named
// capability with an empty options object.
func NewInitializeParams(req HandshakeRequest) *InitializeParams {
	caps := make(map[string]any, len(req.Capabilities))
	for _, name := range req.Capabilities {
		caps[name] = map[string]any{}
	}

	return &InitializeParams{
		ProtocolVersion: req.ProtocolVersion,
		Capabilities:    caps,
		ClientInfo: &mcp.Implementation{
			Name:    req.ClientName,
			Version: req.ClientVersion,
		},
	}
}

// Handshake sends initialize, waits for its result, then sends the
// initialized notification. Every failure wraps ErrHandshake together with
// the underlying cause.
func Handshake(ctx context.Context, c Caller, req HandshakeRequest, timeout time.Duration) (*mcp.InitializeResult, error) {
	raw, err := c.Call(ctx, MethodInitialize, NewInitializeParams(req), timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: initialize: %w", errors.ErrHandshake, err)
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode initialize result: %w", errors.ErrHandshake, err)
	}

	if err := c.Notify(ctx, MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("%w: initialized: %w", errors.ErrHandshake, err)
	}

	return &result, nil
}

// Ping issues a ping call and discards its result.
func Ping(ctx context.Context, c Caller, timeout time.Duration) error {
	_, err := c.Call(ctx, MethodPing, nil, timeout)

	return err
}

// ListTools fetches every page of tools/list.
func ListTools(ctx context.Context, c Caller, timeout time.Duration) ([]*mcp.Tool, error) {
	var (
		tools  []*mcp.Tool
		cursor string
	)

	for range maxToolPages {
		raw, err := c.Call(ctx, MethodToolsList, &mcp.ListToolsParams{Cursor: cursor}, timeout)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}

		var page mcp.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}

		tools = append(tools, page.Tools...)

		if page.NextCursor == "" {
			return tools, nil
		}

		cursor = page.NextCursor
	}

	return tools, fmt.Errorf("tools/list: more than %d pages", maxToolPages)
}

// CallTool issues tools/call and returns the raw result.
func CallTool(
	ctx context.Context,
	c Caller,
	name string,
	arguments map[string]any,
	timeout time.Duration,
) (json.RawMessage, error) {
	return c.Call(ctx, MethodToolsCall, NewCallToolParams(name, arguments), timeout)
}

// NewCallToolParams builds the tools/call body. Nil arguments are sent as an
// empty object.
func NewCallToolParams(name string, arguments map[string]any) *mcp.CallToolParams {
	if arguments == nil {
		arguments = map[string]any{}
	}

	return &mcp.CallToolParams{Name: name, Arguments: arguments}
}
