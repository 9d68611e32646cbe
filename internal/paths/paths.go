// Package paths resolves the single state directory jelly-j keeps all of
// its on-disk artifacts under.
package paths

import (
	"os"
	"path/filepath"
)

const stateDirEnv = "JELLY_J_STATE_DIR"

// StateDir returns the directory holding the lock record, socket, state
// file, and history journal. JELLY_J_STATE_DIR overrides the default
// <home>/.jelly-j, per §6's filesystem layout.
func StateDir() string {
	if dir := os.Getenv(stateDirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jelly-j"
	}
	return filepath.Join(home, ".jelly-j")
}

// EnsureStateDir creates the state directory if missing.
func EnsureStateDir() error {
	return os.MkdirAll(StateDir(), 0o700)
}

func LockPath() string {
	return filepath.Join(StateDir(), "agent.lock.json")
}

func SocketPath() string {
	return filepath.Join(StateDir(), "daemon.sock")
}

func ConversationStatePath() string {
	return filepath.Join(StateDir(), "state.json")
}

func HistoryPath() string {
	return filepath.Join(StateDir(), "history.jsonl")
}

func ConfigPath() string {
	return filepath.Join(StateDir(), "config.toml")
}

// TracePath returns the trace log path used when JELLY_J_DAEMON_TRACE=1.
func TracePath() string {
	return filepath.Join(StateDir(), "daemon.trace.log")
}

// TraceEnabled reports whether JELLY_J_DAEMON_TRACE=1 is set.
func TraceEnabled() bool {
	return os.Getenv("JELLY_J_DAEMON_TRACE") == "1"
}
