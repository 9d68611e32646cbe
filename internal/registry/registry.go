// Package registry implements the Client Registry & Router (§4.4): an
// arena-and-index map pair rather than bidirectional pointers between
// client registrations and their transports (§9's "ad-hoc cyclic
// references" reformulation).
package registry

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/protocol"
)

const outboxCapacity = 64

// Key is the internal arena index for a registration, distinct from the
// client-chosen ClientID.
type Key int64

// Registration is a live, registered client (§3's Client Registration).
type Registration struct {
	Key         Key
	ClientID    string
	SessionTag  string
	Env         envctx.Context
	outbox      chan interface{}
	stopPump    chan struct{}
	pumpStopped chan struct{}
}

// Registry tracks connected clients and routes frames to them.
type Registry struct {
	mu        sync.Mutex
	byKey     map[Key]*Registration
	keyByID   map[string]Key
	nextKey   Key
	logger    *logrus.Entry
}

func New(logger *logrus.Entry) *Registry {
	return &Registry{
		byKey:   make(map[Key]*Registration),
		keyByID: make(map[string]Key),
		logger:  logger,
	}
}

// Register binds a fresh registration and starts its write pump, which
// drains the registration's bounded outbox into enc. Overflow drops the
// client with a final error frame attempt (§5: "overflow drops the
// client with an error frame").
func (r *Registry) Register(clientID, sessionTag string, env envctx.Context, enc *protocol.Encoder) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextKey++
	reg := &Registration{
		Key:         r.nextKey,
		ClientID:    clientID,
		SessionTag:  sessionTag,
		Env:         env,
		outbox:      make(chan interface{}, outboxCapacity),
		stopPump:    make(chan struct{}),
		pumpStopped: make(chan struct{}),
	}
	r.byKey[reg.Key] = reg
	r.keyByID[clientID] = reg.Key

	go r.pump(reg, enc)
	return reg
}

func (r *Registry) pump(reg *Registration, enc *protocol.Encoder) {
	defer close(reg.pumpStopped)
	for {
		select {
		case <-reg.stopPump:
			return
		case frame, ok := <-reg.outbox:
			if !ok {
				return
			}
			if err := enc.WriteFrame(frame); err != nil {
				r.logger.WithError(err).WithField("client", reg.ClientID).Warn("write to client failed")
				return
			}
		}
	}
}

// Unregister removes the registration and stops its pump. Safe to call
// more than once.
func (r *Registry) Unregister(key Key) {
	r.mu.Lock()
	reg, ok := r.byKey[key]
	if ok {
		delete(r.byKey, key)
		if r.keyByID[reg.ClientID] == key {
			delete(r.keyByID, reg.ClientID)
		}
	}
	r.mu.Unlock()

	if ok {
		close(reg.stopPump)
	}
}

// Get looks up a registration by internal key.
func (r *Registry) Get(key Key) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byKey[key]
	return reg, ok
}

// GetByClientID looks up a registration by the client-chosen identifier.
func (r *Registry) GetByClientID(clientID string) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keyByID[clientID]
	if !ok {
		return nil, false
	}
	return r.byKey[key], true
}

// Send routes frame to a single registration by key, non-blocking: a full
// outbox drops the client rather than stalling the actor goroutine.
func (r *Registry) Send(key Key, frame interface{}) {
	r.mu.Lock()
	reg, ok := r.byKey[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case reg.outbox <- frame:
	default:
		r.logger.WithField("client", reg.ClientID).Warn("client outbox full, dropping client")
		r.dropOverflowing(reg)
	}
}

func (r *Registry) dropOverflowing(reg *Registration) {
	// Best-effort final error frame before removal; the pump may already
	// be backed up so this can itself be dropped, which is acceptable.
	select {
	case reg.outbox <- protocol.ErrorFrame{Type: protocol.TypeError, Message: "client write queue overflow"}:
	default:
	}
	r.Unregister(reg.Key)
}

// Broadcast writes frame to every live registration. Individual write
// failures are logged (inside pump) and never abort the broadcast, per
// §4.4's broadcast primitive contract.
func (r *Registry) Broadcast(frame interface{}) {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.Send(k, frame)
	}
}

// Snapshot returns a copy of all live registrations, for the heartbeat
// probe's "known sessions" accumulation.
func (r *Registry) Snapshot() []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Registration, 0, len(r.byKey))
	for _, reg := range r.byKey {
		out = append(out, reg)
	}
	return out
}

// UpdateEnv records the last-seen environment context and session tag for
// a registration, so the Executor can fall back to it (§4.5 step 2).
func (r *Registry) UpdateEnv(key Key, sessionTag string, env envctx.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.byKey[key]; ok {
		reg.SessionTag = sessionTag
		reg.Env = env
	}
}
