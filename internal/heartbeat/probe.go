// Package heartbeat implements the Heartbeat Probe (§4.7): on each tick,
// for every known session, fetch a cached workspace snapshot, evaluate
// cheap predicates, and only on a hit consult a cheap model path for at
// most one suggestion per tick per session.
package heartbeat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"

	"github.com/victorarias/jelly-j/internal/butler"
	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/modelruntime"
	"github.com/victorarias/jelly-j/internal/tmuxctl"
)

// defaultTabNamePattern matches the multiplexer's auto-generated tab
// names (e.g. "Tab #1"), the signal that a tab was never renamed by the
// user (§4.7 step 2's rename predicate).
const defaultTabNamePattern = "Tab #*"

// maxSelectablePanes is the second predicate: a tab this busy is worth a
// glance even if its name was already customized.
const maxSelectablePanes = 4

// ButlerFactory returns a butler client scoped to one session's
// environment context; the Probe never owns a tmux/butler client
// directly so each tick always targets the session's current IPC
// address rather than one captured at startup (§9).
type ButlerFactory func(env envctx.Context) *butler.Client

// TmuxFactory mirrors ButlerFactory for the rename action.
type TmuxFactory func(env envctx.Context) *tmuxctl.Client

// Session is one known multiplexer session the probe tracks.
type Session struct {
	Tag string
	Env envctx.Context
}

// SendStatus delivers a status_note-equivalent message to the session's
// UI client(s); supplied by the daemon's registry.
type SendStatus func(sessionTag, message string)

// IsBusy reports whether the Turn Queue & Executor currently has a turn
// in flight; supplied by the daemon so the probe never shares the model
// runtime's subprocess mechanism with a running user turn (§4.7 step 1).
type IsBusy func() bool

// Probe runs the periodic heartbeat cycle.
type Probe struct {
	Adapter       modelruntime.Adapter
	ModelAlias    string
	ButlerFor     ButlerFactory
	TmuxFor       TmuxFactory
	Send          SendStatus
	IsBusy        IsBusy
	Logger        *logrus.Entry
	Interval      time.Duration
	InitialDelay  time.Duration

	sessions map[string]Session
}

type renameProposal struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
}

type cheapModelResponse struct {
	Renames    []renameProposal `json:"renames"`
	Suggestion string           `json:"suggestion,omitempty"`
}

// NewProbe constructs a Probe with an empty known-sessions set.
func NewProbe(adapter modelruntime.Adapter, modelAlias string, butlerFor ButlerFactory, tmuxFor TmuxFactory, send SendStatus, isBusy IsBusy, logger *logrus.Entry, interval, initialDelay time.Duration) *Probe {
	return &Probe{
		Adapter: adapter, ModelAlias: modelAlias,
		ButlerFor: butlerFor, TmuxFor: tmuxFor, Send: send, IsBusy: isBusy,
		Logger: logger, Interval: interval, InitialDelay: initialDelay,
		sessions: make(map[string]Session),
	}
}

// Track registers a session the probe should consider on future ticks.
func (p *Probe) Track(tag string, env envctx.Context) {
	p.sessions[tag] = Session{Tag: tag, Env: env}
}

// Forget drops a session from the known set — used on "no active
// session" or timeout responses (§4.7 step 3).
func (p *Probe) Forget(tag string) {
	delete(p.sessions, tag)
}

// Run blocks, ticking until ctx is cancelled. Failures never propagate:
// every error is logged and swallowed (§4.7's failure policy).
func (p *Probe) Run(ctx context.Context) {
	timer := time.NewTimer(p.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.tick(ctx)
			timer.Reset(p.Interval)
		}
	}
}

func (p *Probe) tick(ctx context.Context) {
	if p.IsBusy != nil && p.IsBusy() {
		p.Logger.Debug("executor busy, skipping heartbeat tick")
		return
	}
	for tag, sess := range p.sessions {
		p.tickSession(ctx, tag, sess)
	}
}

func (p *Probe) tickSession(ctx context.Context, tag string, sess Session) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.WithField("session", tag).WithField("panic", r).Warn("heartbeat tick panicked")
		}
	}()

	b := p.ButlerFor(sess.Env)
	snap, err := b.GetState(ctx)
	if err != nil {
		if butler.IsNotReady(err) {
			p.Logger.WithField("session", tag).Debug("butler not ready, skipping tick")
			return
		}
		p.Logger.WithField("session", tag).WithError(err).Warn("heartbeat snapshot fetch failed")
		p.Forget(tag)
		return
	}

	if !p.predicatesHold(snap) {
		return
	}

	prompt, err := buildPrompt(snap)
	if err != nil {
		p.Logger.WithError(err).Warn("failed to build heartbeat prompt")
		return
	}

	raw, err := p.Adapter.Query(ctx, prompt, p.ModelAlias)
	if err != nil {
		p.Logger.WithField("session", tag).WithError(err).Warn("heartbeat model query failed")
		return
	}

	var resp cheapModelResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		p.Logger.WithError(err).Warn("malformed heartbeat model response")
		return
	}

	tmux := p.TmuxFor(sess.Env)
	for _, rn := range resp.Renames {
		p.applyRename(ctx, tag, snap, tmux, rn)
	}

	if resp.Suggestion != "" && p.Send != nil {
		p.Send(tag, resp.Suggestion)
	}
}

// predicatesHold implements §4.7 step 2's cheap predicates: any tab
// matching the default-name pattern, or any tab with more than
// maxSelectablePanes selectable panes.
func (p *Probe) predicatesHold(snap butler.Snapshot) bool {
	for _, t := range snap.Tabs {
		if t.SelectablePanes > maxSelectablePanes {
			return true
		}
		matched, err := patternmatcher.Matches(t.Name, []string{defaultTabNamePattern})
		if err == nil && matched {
			return true
		}
	}
	return false
}

// applyRename re-checks the target tab still matches the default-name
// pattern before acting, to avoid overwriting user intent introduced
// during the model round-trip (§4.7 step 2).
func (p *Probe) applyRename(ctx context.Context, sessionTag string, snap butler.Snapshot, tmux *tmuxctl.Client, rn renameProposal) {
	var target *butler.Tab
	for i := range snap.Tabs {
		if snap.Tabs[i].Position == rn.Position {
			target = &snap.Tabs[i]
			break
		}
	}
	if target == nil {
		return
	}
	matched, err := patternmatcher.Matches(target.Name, []string{defaultTabNamePattern})
	if err != nil || !matched {
		return
	}
	if err := tmux.RenameTab(ctx, rn.Position, rn.Name); err != nil {
		p.Logger.WithField("session", sessionTag).WithError(err).Warn("heartbeat rename failed")
	}
}

func buildPrompt(snap butler.Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	now := time.Now().Format(time.RFC3339)
	return "Current time: " + now + ". Workspace snapshot: " + string(data) +
		". Propose tab renames (only for default-named tabs) and at most one short suggestion, as JSON {\"renames\":[{\"position\":N,\"name\":\"...\"}],\"suggestion\":\"...\"}.", nil
}
