// Package tmuxctl wraps the terminal-multiplexer CLI invocations the
// daemon needs for workspace actions (tab rename) and the plugin pipe
// RPC transport, grounded on the teacher's pkg/tmux.Client: a thin,
// socket/session-aware subprocess wrapper built on command.SafeBuilder.
package tmuxctl

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/victorarias/jelly-j/internal/command"
	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/jellyerr"
)

// Client targets one multiplexer session, identified by the Environment
// Context captured at request admission (§9: "the daemon must not rely
// on its own process environment for multiplexer IPC routing").
type Client struct {
	builder *command.SafeBuilder
	binary  string
	env     envctx.Context
}

// New returns a Client that shells out to env.BinaryPath (defaulting to
// "zellij", the multiplexer this daemon targets) with env.SessionName
// selecting the session and env.IPCSocketPath forwarded to the child
// process so it addresses the right IPC server.
func New(env envctx.Context, builder *command.SafeBuilder) *Client {
	binary := env.BinaryPath
	if binary == "" {
		binary = "zellij"
	}
	return &Client{builder: builder, binary: binary, env: env}
}

// RenameTab runs the multiplexer's rename-tab action for the tab at
// position (§4.7 step 2); the tab is addressed by position, not by id.
func (c *Client) RenameTab(ctx context.Context, position int, name string) error {
	if err := command.ValidateSessionTag(name); err != nil {
		return err
	}
	_, err := c.run(ctx, "action", "rename-tab", fmt.Sprintf("%d", position), name)
	return err
}

// Pipe sends a single pipe-RPC payload to the named plugin pipe and
// returns its combined stdout response (§6's plugin pipe RPC transport).
func (c *Client) Pipe(ctx context.Context, pipeName, payload string) (string, error) {
	args := []string{"pipe", "--name", pipeName, "--payload", payload}
	return c.run(ctx, args...)
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.env.SessionName != "" {
		args = append([]string{"--session", c.env.SessionName}, args...)
	}

	cmd := c.builder.Build(ctx, c.binary, args...)
	defer cmd.Release()

	execCmd := cmd.Exec()
	// Both recognized Environment Context keys are forwarded into the
	// child's environment (§3: "forwarded into every subprocess the
	// daemon spawns"), not just the session name — otherwise a client
	// behind a non-default IPC socket silently gets routed at the
	// daemon's own ambient session instead (§9).
	env := execCmd.Environ()
	if c.env.SessionName != "" {
		env = append(env, "ZELLIJ_SESSION_NAME="+c.env.SessionName)
	}
	if c.env.IPCSocketPath != "" {
		env = append(env, "JELLY_J_IPC_SOCKET_PATH="+c.env.IPCSocketPath)
	}
	execCmd.Env = env

	var out bytes.Buffer
	execCmd.Stdout = &out
	execCmd.Stderr = &out

	if err := execCmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", jellyerr.Wrap(ctx.Err(), jellyerr.Timeout, "multiplexer command timed out")
		}
		cmdStr := c.binary + " " + strings.Join(args, " ")
		return out.String(), jellyerr.Wrap(err, jellyerr.IO, fmt.Sprintf("multiplexer command failed: %s", cmdStr))
	}

	return out.String(), nil
}
