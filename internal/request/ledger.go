// Package request implements the async completion-handle model from
// spec.md §4.5: every operation that completes later (open a session,
// send a message, acknowledge a delivery, unsubscribe) is represented by
// a Completer, with wrapping handles layering bookkeeping instead of a
// class hierarchy (spec.md §9).
package request

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Completer is satisfied by anything that can be completed exactly once.
type Completer interface {
	OnSuccess()
	OnFailure(err error)
}

// NoOp is a Completer whose completion is ignored. Used when the caller
// doesn't want to observe the outcome of a fire-and-forget command.
var NoOp Completer = noOp{}

type noOp struct{}

func (noOp) OnSuccess()        {}
func (noOp) OnFailure(error)   {}

// single wraps a Completer and panics on a second completion, per
// spec.md §4.5 ("a second onSuccess/onFailure is a programming error and
// must be detectable"). There is no non-panicking variant.
type single struct {
	target    Completer
	completed int32
}

// Guard wraps target so that a second completion panics instead of being
// silently delivered twice.
func Guard(target Completer) Completer {
	if target == nil {
		target = NoOp
	}
	return &single{target: target}
}

func (s *single) OnSuccess() {
	if !atomic.CompareAndSwapInt32(&s.completed, 0, 1) {
		panic(fmt.Sprintf("amqp: request completed more than once (target %T)", s.target))
	}
	s.target.OnSuccess()
}

func (s *single) OnFailure(err error) {
	if !atomic.CompareAndSwapInt32(&s.completed, 0, 1) {
		panic(fmt.Sprintf("amqp: request completed more than once (target %T)", s.target))
	}
	s.target.OnFailure(err)
}

// Wrapping is a Completer that runs its hooks before delegating to
// Target: Before first, then OnOK or OnErr, then Target. Any hook may be
// nil.
type Wrapping struct {
	Target  Completer
	Before  func()
	OnOK    func()
	OnErr   func(error)
}

func (w *Wrapping) OnSuccess() {
	if w.Before != nil {
		w.Before()
	}
	if w.OnOK != nil {
		w.OnOK()
	}
	if w.Target != nil {
		w.Target.OnSuccess()
	}
}

func (w *Wrapping) OnFailure(err error) {
	if w.Before != nil {
		w.Before()
	}
	if w.OnErr != nil {
		w.OnErr(err)
	}
	if w.Target != nil {
		w.Target.OnFailure(err)
	}
}

// Future is a single-shot Completer an application thread can block on,
// implementing spec.md §5's suspension-point model: the I/O task signals
// completion, the caller's goroutine waits on a channel ("completion
// latch").
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture returns a ready-to-use Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) OnSuccess() { f.once.Do(func() { close(f.done) }) }

func (f *Future) OnFailure(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed once the future completes, for use in a
// select alongside ctx.Done() and other shutdown signals.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the completion error, or nil on success. Only meaningful
// after Done() has been observed as closed.
func (f *Future) Err() error { return f.err }

// PendingByName is the dedicated ledger for unsubscribe operations keyed
// by subscription name (spec.md §4.5: "duplicate concurrent unsubscribe
// for the same name fails the later request").
type PendingByName struct {
	mu      sync.Mutex
	pending map[string]Completer
}

// NewPendingByName returns an empty ledger.
func NewPendingByName() *PendingByName {
	return &PendingByName{pending: make(map[string]Completer)}
}

// ErrDuplicatePending is returned by Start when name already has an
// in-flight request.
type ErrDuplicatePending string

func (e ErrDuplicatePending) Error() string {
	return fmt.Sprintf("amqp: unsubscribe already pending for subscription %q", string(e))
}

// Start registers req as the in-flight request for name, or fails req
// immediately (without touching the existing entry) if one is already
// pending.
func (p *PendingByName) Start(name string, req Completer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.pending[name]; exists {
		err := ErrDuplicatePending(name)
		req.OnFailure(err)
		return err
	}
	p.pending[name] = req
	return nil
}

// Finish removes name's pending entry, if any, and completes it.
func (p *PendingByName) Finish(name string, err error) {
	p.mu.Lock()
	req, ok := p.pending[name]
	if ok {
		delete(p.pending, name)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		req.OnFailure(err)
	} else {
		req.OnSuccess()
	}
}

// Len reports the number of in-flight entries (used by tests to assert no
// lingering state per spec.md §8 scenario 7).
func (p *PendingByName) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
