// Package logging configures the daemon's structured logger: JSON to
// stderr when non-interactive or JELLY_J_LOG_LEVEL=debug, a plain
// formatter on an interactive terminal, and an optional trace file hook
// when JELLY_J_DAEMON_TRACE=1.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/victorarias/jelly-j/internal/paths"
)

func openTraceFile() (io.Writer, error) {
	if err := paths.EnsureStateDir(); err != nil {
		return nil, err
	}
	return os.OpenFile(paths.TracePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

var (
	mu      sync.Mutex
	loggers = map[string]*logrus.Entry{}
)

// New returns a cached *logrus.Entry tagged with component. The first call
// for a component builds and configures its own *logrus.Logger; later
// calls for the same component return the cached entry.
func New(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if entry, ok := loggers[component]; ok {
		return entry
	}

	logger := logrus.New()

	levelStr := os.Getenv("JELLY_J_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	interactive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if interactive && level != logrus.DebugLevel {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if tracePath := os.Getenv("JELLY_J_DAEMON_TRACE"); tracePath == "1" {
		if f, ferr := openTraceFile(); ferr == nil {
			logger.AddHook(&FileHook{Writer: f, LogLevels: logrus.AllLevels, Formatter: &logrus.JSONFormatter{}})
		}
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// FileHook mirrors every log entry to an append-only file, serialized by
// a mutex since the daemon's heartbeat and turn-execution paths both log.
type FileHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Formatter logrus.Formatter
	mu        sync.Mutex
}

func (h *FileHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	line, err := h.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.Writer.Write(line)
	return err
}

func (h *FileHook) Levels() []logrus.Level {
	return h.LogLevels
}

// Reset clears cached loggers; used by tests that toggle env vars.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	loggers = map[string]*logrus.Entry{}
}
