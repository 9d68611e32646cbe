// Package supervisor implements the Startup Supervisor (§4.8): probing
// for a live daemon, reclaiming or signaling a stale one, forking a
// detached replacement, and waiting for it to become healthy — grounded
// on the teacher corpus's own daemon-forking idiom (re-exec with the
// `daemon` subcommand and a marker variable, /dev/null stdio, filtered
// environment, poll loop).
package supervisor

import (
	"context"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/victorarias/jelly-j/internal/jellyerr"
	"github.com/victorarias/jelly-j/internal/lock"
	"github.com/victorarias/jelly-j/internal/paths"
	"github.com/victorarias/jelly-j/internal/process"
	"github.com/victorarias/jelly-j/internal/protocol"
)

const (
	probeTimeout        = 1500 * time.Millisecond
	probeRetries        = 2
	signalWaitTimeout   = 2 * time.Second
	forkPollInterval    = 100 * time.Millisecond
	forkTotalTimeout    = 10 * time.Second
)

// DaemonMarkerEnv is set to 1 in the forked child's environment as a
// daemon-mode marker. The child runs the daemon because it is started
// with the `daemon` subcommand; nothing in this binary reads the marker.
const DaemonMarkerEnv = "JELLY_J_DAEMON_MODE"

// Probe dials the socket and completes a register_client + ping
// round-trip within probeTimeout, retrying probeRetries times (§4.8
// step 1).
func Probe(socketPath string) error {
	var lastErr error
	for attempt := 0; attempt <= probeRetries; attempt++ {
		if err := probeOnce(socketPath); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func probeOnce(socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, probeTimeout)
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.Timeout, "dial daemon socket")
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(probeTimeout))

	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)

	clientID := "supervisor-probe-" + uuid.NewString()
	if err := enc.WriteFrame(protocol.RegisterClient{Type: protocol.TypeRegisterClient, ClientID: clientID}); err != nil {
		return jellyerr.Wrap(err, jellyerr.Timeout, "write register_client probe")
	}
	if _, _, err := dec.ReadFrame(); err != nil { // registered
		return jellyerr.Wrap(err, jellyerr.Timeout, "read registered probe response")
	}
	if _, _, err := dec.ReadFrame(); err != nil { // history_snapshot
		return jellyerr.Wrap(err, jellyerr.Timeout, "read history_snapshot probe response")
	}

	requestID := uuid.NewString()
	if err := enc.WriteFrame(protocol.Ping{Type: protocol.TypePing, RequestID: requestID, ClientID: clientID}); err != nil {
		return jellyerr.Wrap(err, jellyerr.Timeout, "write ping probe")
	}
	typ, _, err := dec.ReadFrame()
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.Timeout, "read pong probe response")
	}
	if typ != protocol.TypePong {
		return jellyerr.Newf(jellyerr.Timeout, "unexpected probe response type %q", typ)
	}
	return nil
}

// EnsureDaemon runs the full Startup Supervisor sequence: probe, signal a
// stale owner if needed, fork a fresh daemon, and wait for health.
func EnsureDaemon(ctx context.Context, binaryPath string) error {
	socketPath := paths.SocketPath()

	if err := Probe(socketPath); err == nil {
		return nil
	}

	if rec, rerr := lock.Read(paths.LockPath()); rerr == nil && rec != nil {
		terminateStaleOwner(rec.PID)
	}

	if err := forkDaemon(binaryPath); err != nil {
		return err
	}

	deadline := time.Now().Add(forkTotalTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := Probe(socketPath); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(forkPollInterval)
	}
	return jellyerr.Wrap(lastErr, jellyerr.Fatal, "daemon did not become healthy in time")
}

// terminateStaleOwner signals a lock owner that exists but didn't answer
// the probe: SIGTERM first, escalating to SIGKILL after a bounded wait
// (§4.8 step 2).
func terminateStaleOwner(pid int) {
	if !process.IsAlive(pid) {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(signalWaitTimeout)
	for time.Now().Before(deadline) {
		if !process.IsAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if process.IsAlive(pid) {
		_ = proc.Signal(syscall.SIGKILL)
	}
}

// forkDaemon re-execs binaryPath with the "daemon" subcommand, detached
// from the controlling terminal and with no inherited stdio (§4.8 step
// 3), grounded on the corpus's ForkDaemon pattern: explicit env filtering
// and /dev/null stdio rather than inheriting the parent's.
func forkDaemon(binaryPath string) error {
	exe := binaryPath
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return jellyerr.Wrap(err, jellyerr.Fatal, "find executable")
		}
	}

	cmd := exec.Command(exe, "daemon")
	cmd.Env = append(filteredEnv(os.Environ()), DaemonMarkerEnv+"=1")

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.Fatal, "open /dev/null")
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		devNull.Close()
		return jellyerr.Wrap(err, jellyerr.Fatal, "start daemon process")
	}

	go func() {
		_ = cmd.Wait()
		devNull.Close()
	}()

	return nil
}

// filteredEnv drops the daemon-mode marker from an inherited environment
// so a re-exec never nests.
func filteredEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if strings.HasPrefix(e, DaemonMarkerEnv+"=") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// detachedSysProcAttr starts the daemon in its own session so it survives
// the supervisor's controlling terminal going away.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
