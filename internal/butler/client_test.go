package butler

import (
	"context"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorarias/jelly-j/internal/command"
	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/tmuxctl"
)

// scriptedExecutor replies on stdout with a fixed response, regardless of
// the invocation — enough to exercise the RPC request/response envelope
// without a real multiplexer.
type scriptedExecutor struct {
	stdout string
}

func (s *scriptedExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("printf %s", shQuote(s.stdout)))
}

func shQuote(s string) string {
	return "'" + s + "'"
}

func newTestClient(t *testing.T, stdout string) *Client {
	builder := command.NewSafeBuilderWithExecutor(&scriptedExecutor{stdout: stdout})
	tmux := tmuxctl.New(envctx.Context{SessionName: "s1"}, builder)
	return New(tmux)
}

func TestGetStateParsesSnapshot(t *testing.T) {
	resp := `{"ok":true,"result":{"tabs":[{"position":0,"name":"main","active":true,"selectable_panes":1}],"panes":[{"id":"p1","tab_index":0,"title":"shell"}]}}`
	c := newTestClient(t, resp)

	snap, err := c.GetState(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Tabs, 1)
	assert.Equal(t, "main", snap.Tabs[0].Name)
	require.Len(t, snap.Panes, 1)
	assert.Equal(t, "p1", snap.Panes[0].ID)
}

func TestCallSurfacesNotReady(t *testing.T) {
	resp := `{"ok":false,"code":"not_ready","error":"caches not primed"}`
	c := newTestClient(t, resp)

	_, err := c.GetState(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotReady(err))
}

func TestRenameTabSendsRequest(t *testing.T) {
	resp := `{"ok":true}`
	c := newTestClient(t, resp)

	err := c.RenameTab(context.Background(), 1, "scratch")
	require.NoError(t, err)
}
