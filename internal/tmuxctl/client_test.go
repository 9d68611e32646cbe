package tmuxctl

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorarias/jelly-j/internal/command"
	"github.com/victorarias/jelly-j/internal/envctx"
)

type recordingExecutor struct {
	name string
	args []string
	cmd  *exec.Cmd
}

func (r *recordingExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	r.name = name
	r.args = args
	r.cmd = exec.CommandContext(ctx, "true")
	return r.cmd
}

func TestRenameTabRejectsInvalidName(t *testing.T) {
	rec := &recordingExecutor{}
	builder := command.NewSafeBuilderWithExecutor(rec)
	c := New(envctx.Context{SessionName: "s1"}, builder)

	err := c.RenameTab(context.Background(), 0, "../evil")
	require.Error(t, err)
}

func TestRenameTabBuildsSessionScopedCommand(t *testing.T) {
	rec := &recordingExecutor{}
	builder := command.NewSafeBuilderWithExecutor(rec)
	c := New(envctx.Context{SessionName: "s1", BinaryPath: "zellij"}, builder)

	err := c.RenameTab(context.Background(), 2, "scratch")
	require.NoError(t, err)

	assert.Equal(t, "zellij", rec.name)
	assert.Contains(t, rec.args, "--session")
	assert.Contains(t, rec.args, "s1")
	assert.Contains(t, rec.args, "rename-tab")
	assert.Contains(t, rec.args, "scratch")
}

func TestRunForwardsIPCSocketPathIntoChildEnv(t *testing.T) {
	rec := &recordingExecutor{}
	builder := command.NewSafeBuilderWithExecutor(rec)
	c := New(envctx.Context{SessionName: "s1", IPCSocketPath: "/tmp/zellij-7331/session.sock"}, builder)

	_, err := c.Pipe(context.Background(), "jelly-j-butler", `{"op":"ping"}`)
	require.NoError(t, err)

	require.NotNil(t, rec.cmd)
	assert.Contains(t, rec.cmd.Env, "JELLY_J_IPC_SOCKET_PATH=/tmp/zellij-7331/session.sock")
	assert.Contains(t, rec.cmd.Env, "ZELLIJ_SESSION_NAME=s1")
}

func TestPipeBuildsPipeCommand(t *testing.T) {
	rec := &recordingExecutor{}
	builder := command.NewSafeBuilderWithExecutor(rec)
	c := New(envctx.Context{SessionName: "s1"}, builder)

	_, err := c.Pipe(context.Background(), "jelly-j-butler", `{"op":"ping"}`)
	require.NoError(t, err)

	assert.Contains(t, rec.args, "pipe")
	assert.Contains(t, rec.args, "--name")
	assert.Contains(t, rec.args, "jelly-j-butler")
	assert.Contains(t, rec.args, `{"op":"ping"}`)
}
