package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorarias/jelly-j/internal/butler"
	"github.com/victorarias/jelly-j/internal/command"
	"github.com/victorarias/jelly-j/internal/config"
	"github.com/victorarias/jelly-j/internal/daemon"
	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/heartbeat"
	"github.com/victorarias/jelly-j/internal/history"
	"github.com/victorarias/jelly-j/internal/lock"
	"github.com/victorarias/jelly-j/internal/logging"
	"github.com/victorarias/jelly-j/internal/modelruntime"
	"github.com/victorarias/jelly-j/internal/paths"
	"github.com/victorarias/jelly-j/internal/protocol"
	"github.com/victorarias/jelly-j/internal/queue"
	"github.com/victorarias/jelly-j/internal/registry"
	"github.com/victorarias/jelly-j/internal/tmuxctl"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the jelly-j daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	cmd.AddCommand(newDaemonStatusCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonConfigCmd())
	cmd.AddCommand(newDaemonTraceCmd())
	return cmd
}

// runDaemon implements §4.1's startup sequence (lock, socket, serve). On
// SIGTERM/SIGINT it stops accepting, removes the socket and releases the
// lock; open connections close when the process exits, and history needs
// no flush because every append is written straight to the file.
func runDaemon(ctx context.Context) error {
	logger := logging.New("daemon")

	if err := paths.EnsureStateDir(); err != nil {
		logger.WithError(err).Error("could not create state directory")
		os.Exit(1)
	}

	cwd, _ := os.Getwd()
	acquired, owner, err := lock.Acquire(paths.LockPath(), os.Getenv("ZELLIJ_SESSION_NAME"), cwd)
	if err != nil {
		logger.WithError(err).Error("could not acquire singleton lock")
		os.Exit(1)
	}
	if !acquired {
		logger.WithField("ownerPid", owner.PID).Info("a live daemon already holds the lock; exiting")
		return nil
	}
	defer lock.Release(paths.LockPath())

	cfg, err := config.Load(paths.ConfigPath())
	if err != nil {
		logger.WithError(err).Error("could not load config.toml")
		os.Exit(1)
	}

	reg := registry.New(logger)
	q := queue.New()
	hist := history.Open(paths.HistoryPath())
	adapter := modelruntime.NewCLIAdapter("claude", cfg.Models, 0, cfg.Permission.ConfigRoots)
	exec := &queue.Executor{Adapter: adapter, History: hist, Logger: logger}

	d := daemon.New(logger, reg, q, exec, hist, cfg, paths.ConversationStatePath())

	watcher, err := config.NewWatcher(paths.ConfigPath(), func(newCfg config.Config) {
		d.UpdateConfig(newCfg)
		reg.Broadcast(protocol.StatusNote{Type: protocol.TypeStatusNote, Message: "config reloaded"})
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("could not start config watcher; continuing without hot-reload")
	} else {
		defer watcher.Close()
	}

	probe := heartbeat.NewProbe(adapter, "haiku",
		func(env envctx.Context) *butler.Client { return butler.New(tmuxctl.New(env, command.NewSafeBuilder())) },
		func(env envctx.Context) *tmuxctl.Client { return tmuxctl.New(env, command.NewSafeBuilder()) },
		func(sessionTag, message string) {
			for _, r := range reg.Snapshot() {
				if r.SessionTag == sessionTag {
					reg.Send(r.Key, protocol.StatusNote{Type: protocol.TypeStatusNote, Message: message})
				}
			}
		},
		d.IsBusy,
		logger, cfg.Heartbeat.Interval(), cfg.Heartbeat.InitialDelay(),
	)
	d.OnRegister = probe.Track
	d.OnDisconnect = probe.Forget

	srv := &daemon.Server{Daemon: d, Logger: logger}
	if err := srv.Listen(paths.SocketPath()); err != nil {
		logger.WithError(err).Error("could not bind daemon socket")
		os.Exit(1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.Run(runCtx)
	go probe.Run(runCtx)
	go srv.Serve(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	srv.Close(paths.SocketPath())
	return nil
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a live daemon currently holds the singleton lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := lock.Read(paths.LockPath())
			if err != nil {
				fmt.Println("no daemon lock record found")
				return nil
			}
			alive := processAlive(rec.PID)
			fmt.Printf("daemon pid %d (started %s): alive=%v\n", rec.PID, rec.StartedAt.Format(time.RFC3339), alive)
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal the locked daemon owner to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := lock.Read(paths.LockPath())
			if err != nil {
				fmt.Println("no daemon lock record found")
				return nil
			}
			proc, err := os.FindProcess(rec.PID)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon: %w", err)
			}

			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if _, err := lock.Read(paths.LockPath()); err != nil {
					fmt.Println("daemon stopped")
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Println("daemon did not stop within the timeout")
			return nil
		},
	}
}

func newDaemonConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Query the running daemon's tunables over the wire socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return queryConfig(cmd.Context())
		},
	}
}

func newDaemonTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace",
		Short: "Tail the daemon trace log (requires JELLY_J_DAEMON_TRACE=1)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tailTrace(cmd.Context())
		},
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
