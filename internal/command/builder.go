package command

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/victorarias/jelly-j/internal/jellyerr"
)

const (
	// DefaultTimeout bounds multiplexer CLI invocations (§5: 10s default).
	DefaultTimeout = 10 * time.Second
	// MaxTimeout is never exceeded regardless of a caller's WithTimeout.
	MaxTimeout = 2 * time.Minute
)

// SafeBuilder constructs timeout-bounded subprocess invocations. It does
// not inspect arguments itself: callers passing user-controlled strings
// (session tags, tab names) check them first with ValidateSessionTag,
// which rejects shell metacharacters and path traversal.
type SafeBuilder struct {
	defaultTimeout time.Duration
	executor       Executor
}

func NewSafeBuilder() *SafeBuilder {
	return NewSafeBuilderWithExecutor(RealExecutor{})
}

func NewSafeBuilderWithExecutor(exec Executor) *SafeBuilder {
	return &SafeBuilder{defaultTimeout: DefaultTimeout, executor: exec}
}

var validSessionTag = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateSessionTag rejects multiplexer session names and tab/pane names
// carrying shell metacharacters or path traversal, before they're passed
// as subprocess arguments.
func ValidateSessionTag(name string) error {
	if name == "" {
		return jellyerr.New(jellyerr.Protocol, "session tag cannot be empty")
	}
	if strings.Contains(name, "..") {
		return jellyerr.New(jellyerr.Protocol, "session tag cannot contain '..'")
	}
	if !validSessionTag.MatchString(name) {
		return jellyerr.Newf(jellyerr.Protocol, "invalid session tag: %q", name)
	}
	return nil
}

// Cmd is a subprocess invocation with a bounded context.
type Cmd struct {
	ctx      context.Context
	cancel   context.CancelFunc
	name     string
	args     []string
	executor Executor
}

// Build applies the default timeout to ctx and returns a Cmd ready to run.
func (sb *SafeBuilder) Build(ctx context.Context, name string, args ...string) *Cmd {
	timeoutCtx, cancel := context.WithTimeout(ctx, sb.defaultTimeout)
	return &Cmd{ctx: timeoutCtx, cancel: cancel, name: name, args: args, executor: sb.executor}
}

// WithTimeout overrides the default timeout, clamped to MaxTimeout.
func (c *Cmd) WithTimeout(parent context.Context, timeout time.Duration) *Cmd {
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	c.ctx = ctx
	c.cancel = cancel
	return c
}

// Exec returns the underlying *exec.Cmd. The caller must eventually call
// Release to free the timeout context.
func (c *Cmd) Exec() *exec.Cmd {
	return c.executor.CommandContext(c.ctx, c.name, c.args...) //nolint:gosec // args validated by callers
}

// Release cancels the bounded context, freeing its timer. Safe to call
// multiple times.
func (c *Cmd) Release() {
	if c.cancel != nil {
		c.cancel()
	}
}
