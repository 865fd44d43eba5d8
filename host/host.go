// Package host emulates the execution environment the settlement core was
// designed for: every state-mutating entry point runs inside a call frame
// that serializes against all other calls, journals each storage write, and
// either commits as a unit or unwinds completely. Events raised during a
// call are buffered in the frame and published only after a successful
// commit, so observers never see the effects of a reverted call.
package host

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olebedev/emitter"
)

// eventBufferCap bounds the per-listener channel on the emitter so a slow
// subscriber cannot stall a committing call.
const eventBufferCap = 64

// Host serializes top-level calls into a single global order and owns the
// asset registry plus the post-commit event emitter.
type Host struct {
	mu     sync.Mutex
	clock  func() time.Time
	events *emitter.Emitter

	tokensMu sync.RWMutex
	tokens   map[common.Address]Token
}

// Option configures a Host.
type Option func(*Host)

// WithClock overrides the frame timestamp source. Tests use this to make
// settlement timestamps deterministic.
func WithClock(clock func() time.Time) Option {
	return func(h *Host) {
		h.clock = clock
	}
}

// New creates a Host with an empty asset registry.
func New(opts ...Option) *Host {
	h := &Host{
		clock:  time.Now,
		events: emitter.New(eventBufferCap),
		tokens: make(map[common.Address]Token),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Events exposes the emitter that carries committed events. Subscribers use
// topic patterns (e.g. "payment.*") the same way callers of the emitter
// package do elsewhere.
func (h *Host) Events() *emitter.Emitter {
	return h.events
}

// RegisterToken adds a fungible asset to the registry under its address.
func (h *Host) RegisterToken(addr common.Address, token Token) {
	h.tokensMu.Lock()
	defer h.tokensMu.Unlock()
	h.tokens[addr] = token
}

// Token resolves a registered asset, or nil if the address is unknown.
func (h *Host) Token(addr common.Address) Token {
	h.tokensMu.RLock()
	defer h.tokensMu.RUnlock()
	return h.tokens[addr]
}

// Call runs fn inside a fresh frame as a single atomic unit. One call fully
// completes, including every nested call it makes, before the next begins.
// If fn returns an error every journaled write is unwound in reverse order
// and no buffered event is published.
func (h *Host) Call(caller common.Address, fn func(*Frame) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := &Frame{
		host:   h,
		caller: caller,
		now:    h.clock(),
		state:  &callState{},
	}
	if err := fn(f); err != nil {
		f.state.revert()
		return err
	}
	for _, ev := range f.state.events {
		<-h.events.Emit(ev.Topic, ev.Payload)
	}
	return nil
}

// Event is a buffered event awaiting commit.
type Event struct {
	Topic   string
	Payload interface{}
}

// callState is shared by every frame view of one top-level call.
type callState struct {
	undo   []func()
	events []Event
}

func (s *callState) revert() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.undo = nil
	s.events = nil
}

// Frame is one view of an in-progress call: the caller identity, the call
// timestamp, and handles to the shared journal and event buffer. Nested
// calls reuse the same journal through WithCaller, so a failure anywhere
// unwinds the whole top-level call.
type Frame struct {
	host   *Host
	caller common.Address
	now    time.Time
	state  *callState
}

// Host returns the host this frame executes on.
func (f *Frame) Host() *Host {
	return f.host
}

// Caller is the immediate caller identity for this frame.
func (f *Frame) Caller() common.Address {
	return f.caller
}

// Now is the timestamp fixed when the top-level call opened.
func (f *Frame) Now() time.Time {
	return f.now
}

// WithCaller derives a nested frame whose caller is addr. The journal and
// event buffer stay shared with the parent.
func (f *Frame) WithCaller(addr common.Address) *Frame {
	return &Frame{
		host:   f.host,
		caller: addr,
		now:    f.now,
		state:  f.state,
	}
}

// Journal records an undo closure for a storage write performed in this
// call. Undo closures run in reverse order when the call reverts.
func (f *Frame) Journal(undo func()) {
	f.state.undo = append(f.state.undo, undo)
}

// Emit buffers an event for publication after the call commits.
func (f *Frame) Emit(topic string, payload interface{}) {
	f.state.events = append(f.state.events, Event{Topic: topic, Payload: payload})
}
