// Package resource implements the shared lifecycle state machine used by
// every engine-owned resource (connection, session, sender, receiver), per
// spec.md §3 "Resource state" and §4.1. It knows nothing about AMQP
// performatives; callers drive it with plain events and supply the
// side-effecting callback (emit the open/close-equivalent performative)
// themselves.
package resource

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// State is one of the eight lifecycle states from spec.md §3.
type State uint8

const (
	IDLE State = iota
	OpeningLocal
	OpeningRemote
	Open
	ClosingLocal
	ClosingRemote
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case OpeningLocal:
		return "OPENING_LOCAL"
	case OpeningRemote:
		return "OPENING_REMOTE"
	case Open:
		return "OPEN"
	case ClosingLocal:
		return "CLOSING_LOCAL"
	case ClosingRemote:
		return "CLOSING_REMOTE"
	case Closed:
		return "CLOSED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether s is one of the two terminal states.
func (s State) Terminal() bool { return s == Closed || s == Failed }

// Request is the completion handle a resource command is paired with. It is
// intentionally the same shape as request.Completer (internal/request) but
// resource does not import request to keep this package dependency-free;
// callers pass any type satisfying this interface.
type Request interface {
	OnSuccess()
	OnFailure(err error)
}

// ErrResourceClosed is returned by Open/Close calls made on a resource that
// has already reached a terminal state.
var ErrResourceClosed = errors.New("amqp: resource closed")

// ErrAlreadyPending is returned when the caller issues a second concurrent
// open or close; per spec.md §4.1 this is a façade programming error.
var ErrAlreadyPending = errors.New("amqp: open/close already pending")

// Machine is the embeddable resource state machine. Zero value is IDLE and
// ready to use. All methods must be called with the engine's single I/O
// task serialized (the mutex here only guards State() reads from other
// goroutines per spec.md §5, it is not a substitute for that discipline).
type Machine struct {
	mu          sync.RWMutex
	state       State
	openReq     Request
	closeReq    Request
	// closePending marks that a remote-opened performative arrived with a
	// condition that must be validated (spec.md §4.1: "mark close pending
	// and treat the expected subsequent remote-close as success-with-
	// distinct-outcome"). ExpectCloseAsSuccess reads this.
	closePending bool
}

// State returns the current state. Safe for concurrent use.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Open attempts the IDLE -> OPENING_LOCAL transition. emit is called
// exactly once, synchronously, from IDLE and from OPENING_REMOTE, and
// should send the resource's open-equivalent performative; from
// OPENING_REMOTE the resource moves straight to OPEN and req succeeds.
// Per spec.md §4.1, calling Open from OPENING_LOCAL/OPEN is a façade bug
// (returns ErrAlreadyPending with the existing pending request
// untouched); calling it from CLOSING_* or a terminal state fails req
// immediately with ErrResourceClosed.
func (m *Machine) Open(req Request, emit func()) error {
	switch m.State() {
	case IDLE:
		emit()
		m.openReq = req
		m.setState(OpeningLocal)
		return nil
	case OpeningRemote:
		// peer already attached (reattach case); local open completes it.
		emit()
		m.openReq = req
		m.setState(Open)
		req.OnSuccess()
		return nil
	case OpeningLocal, Open:
		return ErrAlreadyPending
	default: // Closed, Failed, ClosingLocal, ClosingRemote
		req.OnFailure(ErrResourceClosed)
		return ErrResourceClosed
	}
}

// OnRemoteOpened handles the peer's open-equivalent performative. It
// takes no condition: where the opened performative needs validation
// (spec.md §4.1's "remote source is null" case), the resource calls
// MarkClosePending itself using domain knowledge, and the following
// OnRemoteClosed then treats a clean close as success.
func (m *Machine) OnRemoteOpened() {
	switch m.State() {
	case OpeningLocal:
		m.setState(Open)
		if m.openReq != nil {
			req := m.openReq
			m.openReq = nil
			req.OnSuccess()
		}
	case IDLE:
		// peer-initiated open (reattach); legal only for child resources.
		m.setState(OpeningRemote)
	default:
		// no-op: duplicate or out-of-order opened performative.
	}
}

// MarkClosePending records that the just-received remote-opened carried a
// condition (e.g. null source) that turns the *next* remote-close into a
// successful, distinct outcome rather than a failure.
func (m *Machine) MarkClosePending() { m.closePending = true }

// ClosePending reports and clears the close-pending flag.
func (m *Machine) ClosePending() bool {
	v := m.closePending
	m.closePending = false
	return v
}

// Close attempts the OPEN/OPENING_* -> CLOSING_LOCAL transition. emit is
// called exactly once, synchronously, from OPEN/OPENING_* only; from
// CLOSING_LOCAL, CLOSING_REMOTE, IDLE or a terminal state nothing is sent.
// Idempotent: a second Close call while CLOSING_LOCAL returns the same
// pending request without resending. From a terminal state req completes
// immediately and successfully (spec.md: "From CLOSED/FAILED, completes
// immediately").
func (m *Machine) Close(req Request, emit func()) error {
	switch m.State() {
	case Open, OpeningLocal, OpeningRemote:
		emit()
		m.closeReq = req
		m.setState(ClosingLocal)
		return nil
	case ClosingLocal:
		// idempotent: fold the new request behind the existing one.
		if m.closeReq == nil {
			m.closeReq = req
		} else if req != nil {
			prev := m.closeReq
			m.closeReq = &fanoutRequest{a: prev, b: req}
		}
		return nil
	case Closed, Failed:
		req.OnSuccess()
		return nil
	default: // ClosingRemote
		m.closeReq = req
		return nil
	}
}

// fanoutRequest completes two requests together; used when Close is called
// twice concurrently while already CLOSING_LOCAL.
type fanoutRequest struct{ a, b Request }

func (f *fanoutRequest) OnSuccess() { f.a.OnSuccess(); f.b.OnSuccess() }
func (f *fanoutRequest) OnFailure(err error) { f.a.OnFailure(err); f.b.OnFailure(err) }

// OnRemoteClosed handles the peer's close-equivalent performative.
// onFailChildren is invoked (if non-nil) only when this call causes a
// transition into FAILED, so the caller can cascade-close descendants and
// fire its exception listener, per spec.md §4.1/§7.
func (m *Machine) OnRemoteClosed(err error, onFailChildren func(error)) {
	state := m.State()
	switch {
	case err != nil && state != ClosingLocal:
		m.setState(Failed)
		if m.openReq != nil {
			req := m.openReq
			m.openReq = nil
			req.OnFailure(err)
		}
		if m.closeReq != nil {
			req := m.closeReq
			m.closeReq = nil
			req.OnFailure(err)
		}
		if onFailChildren != nil {
			onFailChildren(err)
		}
	case state == ClosingLocal:
		m.setState(Closed)
		if m.closeReq != nil {
			req := m.closeReq
			m.closeReq = nil
			req.OnSuccess()
		}
	case err == nil && m.ClosePending():
		// success-with-distinct-outcome: peer didn't retain what we asked
		// for (e.g. durable subscription), but this is not a failure.
		m.setState(Closed)
		if m.openReq != nil {
			req := m.openReq
			m.openReq = nil
			req.OnSuccess()
		}
	default:
		m.setState(Closed)
		if m.openReq != nil {
			req := m.openReq
			m.openReq = nil
			req.OnFailure(ErrResourceClosed)
		}
		if m.closeReq != nil {
			req := m.closeReq
			m.closeReq = nil
			req.OnSuccess()
		}
	}
}
