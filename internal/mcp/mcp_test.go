package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/stdiomux/internal/errors"
)

type recordedCall struct {
	method string
	params json.RawMessage
}

// fakeCaller answers from a per-method script.
type fakeCaller struct {
	calls     []recordedCall
	notified  []string
	answers   map[string][]string
	errs      map[string]error
	notifyErr error
}

func (f *fakeCaller) Call(_ context.Context, method string, params any, _ time.Duration) (json.RawMessage, error) {
	data, _ := json.Marshal(params)
	f.calls = append(f.calls, recordedCall{method: method, params: data})

	if err := f.errs[method]; err != nil {
		return nil, err
	}

	queue := f.answers[method]
	if len(queue) == 0 {
		return json.RawMessage(`{}`), nil
	}

	f.answers[method] = queue[1:]

	return json.RawMessage(queue[0]), nil
}

func (f *fakeCaller) Notify(_ context.Context, method string, _ any) error {
	f.notified = append(f.notified, method)

	return f.notifyErr
}

func TestHandshake(t *testing.T) {
	caller := &fakeCaller{answers: map[string][]string{
		MethodInitialize: {`{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"serverInfo":{"name":"alpha","version":"1.2.0"}}`},
	}}

	result, err := Handshake(context.Background(), caller, HandshakeRequest{
		ProtocolVersion: "2025-06-18",
		Capabilities:    []string{"tools"},
		ClientName:      "stdiomux",
		ClientVersion:   "1.0.0",
	}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "alpha", result.ServerInfo.Name)
	require.Equal(t, "2025-06-18", result.ProtocolVersion)

	require.Len(t, caller.calls, 1)
	require.Equal(t, MethodInitialize, caller.calls[0].method)
	require.JSONEq(t,
		`{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"clientInfo":{"name":"stdiomux","version":"1.0.0"}}`,
		string(caller.calls[0].params))
	require.Equal(t, []string{MethodInitialized}, caller.notified)
}

func TestHandshake_Failures(t *testing.T) {
	t.Run("initialize fails", func(t *testing.T) {
		caller := &fakeCaller{errs: map[string]error{
			MethodInitialize: &errors.ProcessError{ExitCode: 1},
		}}

		_, err := Handshake(context.Background(), caller, HandshakeRequest{}, time.Second)
		require.ErrorIs(t, err, errors.ErrHandshake)
		require.ErrorIs(t, err, errors.ErrTransportClosed)
		require.Empty(t, caller.notified, "initialized must not follow a failed initialize")
	})

	t.Run("malformed result", func(t *testing.T) {
		caller := &fakeCaller{answers: map[string][]string{MethodInitialize: {`[1,2]`}}}

		_, err := Handshake(context.Background(), caller, HandshakeRequest{}, time.Second)
		require.ErrorIs(t, err, errors.ErrHandshake)
	})

	t.Run("initialized fails", func(t *testing.T) {
		caller := &fakeCaller{notifyErr: errors.ErrTransportClosed}

		_, err := Handshake(context.Background(), caller, HandshakeRequest{}, time.Second)
		require.ErrorIs(t, err, errors.ErrHandshake)
		require.ErrorIs(t, err, errors.ErrTransportClosed)
	})
}

func TestListTools_FollowsCursor(t *testing.T) {
	caller := &fakeCaller{answers: map[string][]string{
		MethodToolsList: {
			`{"tools":[{"name":"a","inputSchema":{"type":"object"}}],"nextCursor":"p2"}`,
			`{"tools":[{"name":"b","inputSchema":{"type":"object"}}]}`,
		},
	}}

	tools, err := ListTools(context.Background(), caller, time.Second)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "a", tools[0].Name)
	require.Equal(t, "b", tools[1].Name)

	require.JSONEq(t, `{}`, string(caller.calls[0].params))
	require.JSONEq(t, `{"cursor":"p2"}`, string(caller.calls[1].params))
}

func TestListTools_RunawayCursor(t *testing.T) {
	pages := make([]string, maxToolPages+1)
	for i := range pages {
		pages[i] = fmt.Sprintf(`{"tools":[],"nextCursor":"p%d"}`, i)
	}

	caller := &fakeCaller{answers: map[string][]string{MethodToolsList: pages}}

	_, err := ListTools(context.Background(), caller, time.Second)
	require.ErrorContains(t, err, "pages")
}

func TestCallTool_Params(t *testing.T) {
	caller := &fakeCaller{}

	_, err := CallTool(context.Background(), caller, "echo", nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, MethodToolsCall, caller.calls[0].method)
	require.JSONEq(t, `{"name":"echo","arguments":{}}`, string(caller.calls[0].params))
}

func decodeTools(t *testing.T, raw string) []*mcp.Tool {
	t.Helper()

	var page mcp.ListToolsResult
	require.NoError(t, json.Unmarshal([]byte(raw), &page))

	return page.Tools
}

func TestCatalog_Validate(t *testing.T) {
	catalog := NewCatalog(decodeTools(t, `{"tools":[
		{"name":"echo","inputSchema":{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}},
		{"name":"free"}
	]}`))

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr bool
	}{
		{name: "valid", tool: "echo", args: map[string]any{"text": "hi"}},
		{name: "missing required", tool: "echo", args: map[string]any{}, wantErr: true},
		{name: "nil arguments", tool: "echo", wantErr: true},
		{name: "wrong type", tool: "echo", args: map[string]any{"text": 3}, wantErr: true},
		{name: "no schema", tool: "free", args: map[string]any{"anything": true}},
		{name: "unknown tool", tool: "nope", args: map[string]any{"x": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := catalog.Validate(tt.tool, tt.args)
			if tt.wantErr {
				require.ErrorContains(t, err, "invalid arguments: ")

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestCatalog_Tools(t *testing.T) {
	catalog := NewCatalog([]*mcp.Tool{{Name: "zeta"}, {Name: "alpha"}, nil})

	tools := catalog.Tools()
	require.Len(t, tools, 2)
	require.Equal(t, "alpha", tools[0].Name)

	_, ok := catalog.Lookup("zeta")
	require.True(t, ok)
}
