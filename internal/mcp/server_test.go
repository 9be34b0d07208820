package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTool records whether its context carried a deadline.
type echoTool struct {
	hadDeadline bool
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echo the message back." }
func (e *echoTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`)
}
func (e *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	_, e.hadDeadline = ctx.Deadline()
	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult("bad params"), nil
	}
	return JSONResult(map[string]string{"message": p.Message})
}

func newTestServer(t *testing.T) (*Server, *echoTool) {
	t.Helper()
	reg := NewRegistry()
	tool := &echoTool{}
	reg.Register(tool)
	srv := NewServer(reg, ServerInfo{Name: "like-i-said-memory-v2", Version: "2.0.0"}, time.Minute, testLogger())
	return srv, tool
}

func TestHandleMessageParseError(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.HandleMessage(context.Background(), []byte("{not json"))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParse, resp.Error.Code)
}

func TestHandleMessageNotificationsSilent(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, resp)
}

func TestInitialize(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test"}}}`))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(*InitializeResult)
	require.True(t, ok)
	assert.Equal(t, "like-i-said-memory-v2", result.ServerInfo.Name)
	assert.Equal(t, "2024-11-05", result.ProtocolVersion)
	assert.NotNil(t, result.Capabilities.Tools)
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(*ToolsListResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
	assert.NotEmpty(t, result.Tools[0].InputSchema)
}

func TestToolsCall(t *testing.T) {
	srv, tool := newTestServer(t)
	resp := srv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(*ToolsCallResult)
	require.True(t, ok)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "hi")
	assert.True(t, tool.hadDeadline, "tool calls run under a deadline")
}

func TestToolsCallUnknownTool(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":5,"method":"bogus/method"}`))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestRegistryPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})
	assert.Panics(t, func() { reg.Register(&echoTool{}) })
}
