package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"

	"github.com/google/uuid"
	"github.com/hpcloud/tail"

	"github.com/victorarias/jelly-j/internal/paths"
	"github.com/victorarias/jelly-j/internal/protocol"
	"github.com/victorarias/jelly-j/internal/uiclient"
)

// queryConfig performs a throwaway register_client + get_config round
// trip and prints the daemon's running tunables (§6's additive
// `daemon config` subcommand).
func queryConfig(ctx context.Context) error {
	sess, _, _, err := uiclient.Connect(ctx, paths.SocketPath())
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer sess.Close()

	if err := sess.SendGetConfig(uuid.NewString()); err != nil {
		return err
	}

	frame := <-sess.Events()
	cfg, ok := frame.(*protocol.Config)
	if !ok {
		return fmt.Errorf("unexpected response frame %T", frame)
	}

	fmt.Printf("heartbeat: every %ds (initial delay %ds)\n", cfg.HeartbeatIntervalSeconds, cfg.HeartbeatInitialDelaySeconds)
	fmt.Printf("timeouts: multiplexer=%ds pluginOp=%ds pluginToggle=%ds\n",
		cfg.MultiplexerTimeoutSeconds, cfg.PluginOpTimeoutSeconds, cfg.PluginToggleTimeoutSeconds)
	fmt.Printf("permission config roots: %v\n", cfg.PermissionConfigRoots)
	fmt.Printf("models: %v\n", cfg.Models)
	return nil
}

// tailTrace follows the optional JELLY_J_DAEMON_TRACE log file, grounded
// on the teacher's log-follow affordance: hpcloud/tail rather than a
// hand-rolled poll loop.
func tailTrace(ctx context.Context) error {
	t, err := tail.TailFile(paths.TracePath(), tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Whence: io.SeekEnd},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("open trace log (is JELLY_J_DAEMON_TRACE=1 set?): %w", err)
	}
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			fmt.Println(line.Text)
		}
	}
}
