// Package daemon wires the Singleton Lock, Wire Protocol, History Store,
// Client Registry, Turn Queue & Executor, Model Runtime Adapter, and
// Heartbeat Probe into the single cooperative scheduler described in §5:
// one actor goroutine owns all daemon-global mutable state, driven by an
// inbox channel that multiplexes client frames, turn completions, and
// registration events. Subprocess-heavy work (a turn's model-runtime
// call) runs on its own goroutine and reports back through the inbox, so
// the actor itself is never blocked on I/O.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/victorarias/jelly-j/internal/config"
	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/history"
	"github.com/victorarias/jelly-j/internal/protocol"
	"github.com/victorarias/jelly-j/internal/queue"
	"github.com/victorarias/jelly-j/internal/registry"
)

const defaultModelAlias = "opus"

// actorEvent is the closed set of things the actor goroutine reacts to.
type actorEvent interface{}

// registerEvent is a connection's first valid frame; resp carries back
// the assigned registry.Key so the connection goroutine can route
// subsequent frames.
type registerEvent struct {
	frame protocol.RegisterClient
	enc   *protocol.Encoder
	resp  chan registry.Key
}

// frameEvent is any subsequent frame from an already-registered client.
type frameEvent struct {
	key   registry.Key
	frame interface{}
}

// disconnectEvent fires when a connection's read loop ends.
type disconnectEvent struct {
	key registry.Key
}

// turnDoneEvent carries a completed turn's Outcome back to the actor so
// it can update and persist Conversation State, then dequeue the next
// Turn Request if one is waiting.
type turnDoneEvent struct {
	outcome queue.Outcome
}

// Daemon is the actor: the only goroutine that touches resumeToken,
// modelAlias, lastSessionTag, and the turn queue (§5's shared-resource
// policy).
type Daemon struct {
	Logger   *logrus.Entry
	Registry *registry.Registry
	Queue    *queue.Queue
	Executor *queue.Executor
	History  *history.Store
	Config   config.Config
	StatePath string

	cfgMu sync.RWMutex

	inbox chan actorEvent
	ctx   context.Context

	resumeToken    string
	modelAlias     string
	lastSessionTag string
	busy           atomic.Bool
	seenRequestIDs map[string]struct{}

	// OnRegister/OnDisconnect let the startup wiring feed the Heartbeat
	// Probe's known-session set without the daemon package depending on
	// internal/heartbeat directly.
	OnRegister   func(sessionTag string, env envctx.Context)
	OnDisconnect func(sessionTag string)
}

// New constructs a Daemon with Conversation State seeded from disk.
func New(logger *logrus.Entry, reg *registry.Registry, q *queue.Queue, exec *queue.Executor, hist *history.Store, cfg config.Config, statePath string) *Daemon {
	st := loadState(statePath)
	return &Daemon{
		Logger: logger, Registry: reg, Queue: q, Executor: exec, History: hist,
		Config: cfg, StatePath: statePath,
		inbox:          make(chan actorEvent, 256),
		resumeToken:    st.SessionID,
		lastSessionTag: st.ZellijSession,
		modelAlias:     defaultModelAlias,
		seenRequestIDs: make(map[string]struct{}),
	}
}

// UpdateConfig hot-swaps the running config (fsnotify-driven reload).
// Reads of Config elsewhere use the RWMutex so a reload mid-turn never
// races with the handshake timeout or get_config response.
func (d *Daemon) UpdateConfig(cfg config.Config) {
	d.cfgMu.Lock()
	d.Config = cfg
	d.cfgMu.Unlock()

	if d.Executor != nil {
		if configurable, ok := d.Executor.Adapter.(configRootsSetter); ok {
			configurable.SetConfigRoots(cfg.Permission.ConfigRoots)
		}
	}
}

// configRootsSetter is satisfied by modelruntime.CLIAdapter; kept narrow
// here so the daemon package doesn't need to import modelruntime just for
// a hot-reload hook.
type configRootsSetter interface {
	SetConfigRoots(roots []string)
}

func (d *Daemon) currentConfig() config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.Config
}

// Run is the actor loop. It blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	d.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.inbox:
			d.handle(ctx, ev)
		}
	}
}

// Submit enqueues an event for the actor. Safe to call from any
// goroutine (connection read loops, turn-completion goroutines).
func (d *Daemon) Submit(ev actorEvent) {
	d.inbox <- ev
}

// IsBusy reports whether the Turn Queue & Executor has a turn in
// flight. Safe to call from any goroutine; wired into the Heartbeat
// Probe so a tick never runs concurrently with a user turn (§4.7).
func (d *Daemon) IsBusy() bool {
	return d.busy.Load()
}

func (d *Daemon) handle(ctx context.Context, ev actorEvent) {
	switch e := ev.(type) {
	case registerEvent:
		d.handleRegister(e)
	case frameEvent:
		d.handleFrame(ctx, e)
	case disconnectEvent:
		if d.OnDisconnect != nil {
			if reg, ok := d.Registry.Get(e.key); ok {
				d.OnDisconnect(reg.SessionTag)
			}
		}
		d.Registry.Unregister(e.key)
	case turnDoneEvent:
		d.handleTurnDone(e.outcome)
	}
}

func (d *Daemon) handleRegister(e registerEvent) {
	env := envctx.FromRaw(e.frame.ZellijEnv)
	reg := d.Registry.Register(e.frame.ClientID, e.frame.ZellijSession, env, e.enc)

	d.Registry.Send(reg.Key, protocol.Registered{
		Type:      protocol.TypeRegistered,
		ClientID:  e.frame.ClientID,
		DaemonPID: os.Getpid(),
		Model:     d.modelAlias,
		Busy:      d.busy.Load(),
	})

	entries, err := d.History.ReadSnapshot(0)
	if err != nil {
		d.Logger.WithError(err).Warn("failed to read history snapshot")
		entries = nil
	}
	d.Registry.Send(reg.Key, protocol.HistorySnapshot{
		Type:    protocol.TypeHistorySnapshot,
		Entries: entries,
	})

	if d.OnRegister != nil && reg.SessionTag != "" {
		d.OnRegister(reg.SessionTag, reg.Env)
	}

	e.resp <- reg.Key
}

func (d *Daemon) handleFrame(ctx context.Context, e frameEvent) {
	reg, ok := d.Registry.Get(e.key)
	if !ok {
		return
	}

	switch f := e.frame.(type) {
	case *protocol.ChatRequest:
		d.handleChatRequest(ctx, e.key, reg, f)
	case *protocol.SetModel:
		d.handleSetModel(f)
	case *protocol.NewSession:
		d.handleNewSession(e.key, f)
	case *protocol.Ping:
		d.Registry.Send(e.key, protocol.Pong{Type: protocol.TypePong, RequestID: f.RequestID, DaemonPID: os.Getpid()})
	case *protocol.GetConfig:
		d.handleGetConfig(e.key, f)
	}
}

func (d *Daemon) handleChatRequest(ctx context.Context, key registry.Key, reg *registry.Registration, f *protocol.ChatRequest) {
	// Duplicate requestIds are rejected rather than silently admitted as
	// distinct turns (§9): a retried/duplicated frame would otherwise
	// double-run a turn and stream two chat_start/chat_end pairs under
	// the same id.
	if _, seen := d.seenRequestIDs[f.RequestID]; seen {
		d.Registry.Send(key, protocol.ErrorFrame{Type: protocol.TypeError, RequestID: f.RequestID, Message: fmt.Sprintf("duplicate requestId %q", f.RequestID)})
		return
	}
	d.seenRequestIDs[f.RequestID] = struct{}{}

	env := envctx.Merge(reg.Env, envctx.FromRaw(f.ZellijEnv))
	sessionTag := f.ZellijSession
	if sessionTag == "" {
		sessionTag = reg.SessionTag
	}
	d.Registry.UpdateEnv(key, sessionTag, env)
	if d.OnRegister != nil && sessionTag != "" {
		d.OnRegister(sessionTag, env)
	}

	// queuedAhead counts turns ahead of this one at admission time,
	// including the in-flight turn the executor is currently running —
	// the value chat_start eventually reports for this request (§8
	// scenario 2: "c2 receives chat_start{r2, queuedAhead:1}").
	ahead := d.Queue.Len()
	if d.busy.Load() {
		ahead++
	}
	req := queue.TurnRequest{
		RequestID:   f.RequestID,
		ClientKey:   key,
		ClientID:    f.ClientID,
		Text:        f.Text,
		SessionTag:  sessionTag,
		Env:         env,
		QueuedAhead: ahead,
	}
	d.Queue.Enqueue(req)

	if !d.busy.Load() {
		d.startNextTurn(ctx)
	}
}

// startNextTurn dequeues the head request and runs it on a dedicated
// goroutine, so the actor's inbox keeps draining while the model runtime
// streams (§5: "I/O-bound operations... yield").
func (d *Daemon) startNextTurn(ctx context.Context) {
	req, ok := d.Queue.Dequeue()
	if !ok {
		return
	}
	d.busy.Store(true)

	resumeToken := d.resumeToken
	modelAlias := d.modelAlias
	lastSessionTag := d.lastSessionTag

	go func() {
		outcome := d.Executor.Run(ctx, req, resumeToken, modelAlias, lastSessionTag, req.QueuedAhead,
			func(frame interface{}) { d.Registry.Send(req.ClientKey, frame) },
		)
		d.Submit(turnDoneEvent{outcome: outcome})
	}()
}

func (d *Daemon) handleTurnDone(outcome queue.Outcome) {
	d.busy.Store(false)
	if outcome.NewResumeToken != "" {
		d.resumeToken = outcome.NewResumeToken
	}
	if outcome.SessionTag != "" {
		d.lastSessionTag = outcome.SessionTag
	}

	if err := saveState(d.StatePath, persistedState{SessionID: d.resumeToken, ZellijSession: d.lastSessionTag}); err != nil {
		d.Logger.WithError(err).Warn("failed to persist conversation state")
	}

	if d.Queue.Len() > 0 {
		d.startNextTurn(d.ctx)
	}
}

func (d *Daemon) handleSetModel(f *protocol.SetModel) {
	cfg := d.currentConfig()
	if _, ok := cfg.Models[f.Alias]; !ok {
		if reg, ok := d.Registry.GetByClientID(f.ClientID); ok {
			d.Registry.Send(reg.Key, protocol.ErrorFrame{Type: protocol.TypeError, RequestID: f.RequestID, Message: fmt.Sprintf("unknown model alias %q", f.Alias)})
		}
		return
	}
	d.modelAlias = f.Alias
	d.Registry.Broadcast(protocol.ModelUpdated{Type: protocol.TypeModelUpdated, RequestID: f.RequestID, Alias: f.Alias})
}

// handleNewSession clears the resume token (§3: "discarded and recreated
// on new_session") only when the executor is Idle; clearing it while a
// turn is in flight would corrupt that turn's eventual persisted state
// (§4.5). A busy executor gets an error reply instead, an idle one a
// status_note acknowledging the reset (§4.5, §8).
func (d *Daemon) handleNewSession(key registry.Key, f *protocol.NewSession) {
	if d.busy.Load() {
		d.Registry.Send(key, protocol.ErrorFrame{Type: protocol.TypeError, RequestID: f.RequestID, Message: "cannot start a new session while a turn is in flight"})
		return
	}

	d.resumeToken = ""
	if err := saveState(d.StatePath, persistedState{SessionID: "", ZellijSession: d.lastSessionTag}); err != nil {
		d.Logger.WithError(err).Warn("failed to persist conversation state")
	}
	d.Registry.Send(key, protocol.StatusNote{Type: protocol.TypeStatusNote, Message: "started a new conversation"})
}

func (d *Daemon) handleGetConfig(key registry.Key, f *protocol.GetConfig) {
	cfg := d.currentConfig()
	d.Registry.Send(key, protocol.Config{
		Type:                         protocol.TypeConfig,
		RequestID:                    f.RequestID,
		HeartbeatIntervalSeconds:     cfg.Heartbeat.IntervalSeconds,
		HeartbeatInitialDelaySeconds: cfg.Heartbeat.InitialDelaySeconds,
		MultiplexerTimeoutSeconds:    cfg.Timeouts.MultiplexerSeconds,
		PluginOpTimeoutSeconds:       cfg.Timeouts.PluginOpSeconds,
		PluginToggleTimeoutSeconds:   cfg.Timeouts.PluginToggleSeconds,
		PermissionConfigRoots:        cfg.Permission.ConfigRoots,
		Models:                       cfg.Models,
	})
}
