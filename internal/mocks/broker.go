// Package mocks provides in-memory stand-ins for the transport/codec
// collaborators so the protocol engine can be exercised without a real
// socket or a real AMQP byte codec, mirroring the teacher's own
// internal/mocks.NewNetConn(responder) pattern used throughout
// link_test.go/sender_test.go/receiver_test.go.
package mocks

import (
	"sync"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/transport"
)

// Responder computes zero or more reply frames for one outbound frame. A
// nil slice means "no reply" (e.g. the broker silently accepts a
// disposition). Responder closures are how each test scripts the fake
// broker's behavior, exactly like Azure-amqp's responder functions.
type Responder func(channel uint16, body frames.FrameBody) []transport.Incoming

// Broker is a FrameConn whose "wire" is just direct Go calls into a
// Responder, skipping byte encoding entirely since that codec is out of
// scope per spec.md.
type Broker struct {
	responder Responder

	mu     sync.Mutex
	frames chan transport.Incoming
	closed chan struct{}
	once   sync.Once
	err    error
}

// NewBroker returns a Broker that answers outbound frames using fn.
func NewBroker(fn Responder) *Broker {
	return &Broker{
		responder: fn,
		frames:    make(chan transport.Incoming, 64),
		closed:    make(chan struct{}),
	}
}

func (b *Broker) SendFrame(channel uint16, body frames.FrameBody) error {
	b.mu.Lock()
	closed := b.isClosed()
	b.mu.Unlock()
	if closed {
		return transport.ErrIncompleteFrame // any sentinel; conn is gone
	}
	if b.responder == nil {
		return nil
	}
	for _, reply := range b.responder(channel, body) {
		select {
		case b.frames <- reply:
		case <-b.closed:
			return nil
		}
	}
	return nil
}

// Push enqueues in as if it had arrived unsolicited from the peer, for
// frames a test needs to seed before any request triggers a Responder
// reply -- the SASL handshake's opening SASLMechanisms chief among them,
// since Client.handshake awaits it before sending anything itself.
func (b *Broker) Push(in transport.Incoming) {
	select {
	case b.frames <- in:
	case <-b.closed:
	}
}

func (b *Broker) Frames() <-chan transport.Incoming { return b.frames }
func (b *Broker) Closed() <-chan struct{}           { return b.closed }
func (b *Broker) Err() error                        { return b.err }

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *Broker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Fail marks the broker connection as having failed with err, simulating
// an unsolicited transport error.
func (b *Broker) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	b.once.Do(func() { close(b.closed) })
}

// --- canned reply builders, mirroring mocks.PerformOpen/PerformBegin/... ---

// Open builds a reply carrying a PerformOpen on channel 0.
func Open(containerID string, idleTimeoutMs uint32) transport.Incoming {
	return transport.Incoming{Channel: 0, Body: &frames.PerformOpen{ContainerID: containerID, IdleTimeout: idleTimeoutMs}}
}

// Begin builds a PerformBegin reply.
func Begin(channel uint16, remoteChannel uint16) transport.Incoming {
	rc := remoteChannel
	return transport.Incoming{Channel: channel, Body: &frames.PerformBegin{RemoteChannel: &rc, IncomingWindow: 100, OutgoingWindow: 100}}
}

// Attach builds a reply attach with the given role (callers pass the
// role opposite to the requesting link's), a Source and Target present
// (successful attach), and the given settle modes.
func Attach(channel uint16, name string, handle uint32, role encoding.Role, ssm encoding.SenderSettleMode, rsm encoding.ReceiverSettleMode) transport.Incoming {
	return transport.Incoming{Channel: channel, Body: &frames.PerformAttach{
		Name:               name,
		Handle:             handle,
		Role:               role,
		SenderSettleMode:   &ssm,
		ReceiverSettleMode: &rsm,
		Source:             &frames.Source{Address: "src"},
		Target:             &frames.Target{Address: "tgt"},
	}}
}

// AttachNullSource builds a reply attach with a nil Source, signalling
// (for a durable-subscription receiver) that the peer did not retain the
// subscription.
func AttachNullSource(channel uint16, name string, handle uint32, ssm encoding.SenderSettleMode, rsm encoding.ReceiverSettleMode) transport.Incoming {
	return transport.Incoming{Channel: channel, Body: &frames.PerformAttach{
		Name:               name,
		Handle:             handle,
		Role:               encoding.RoleReceiver,
		SenderSettleMode:   &ssm,
		ReceiverSettleMode: &rsm,
		Source:             nil,
		Target:             &frames.Target{Address: "tgt"},
	}}
}

// Flow builds a PerformFlow reply granting credit to handle.
func Flow(channel uint16, handle uint32, credit uint32) transport.Incoming {
	h := handle
	c := credit
	dc := uint32(0)
	return transport.Incoming{Channel: channel, Body: &frames.PerformFlow{Handle: &h, LinkCredit: &c, DeliveryCount: &dc, IncomingWindow: 100, OutgoingWindow: 100}}
}

// Disposition builds a settled disposition carrying state for one delivery.
func Disposition(channel uint16, role encoding.Role, deliveryID uint32, state encoding.DeliveryState) transport.Incoming {
	return transport.Incoming{Channel: channel, Body: &frames.PerformDisposition{
		Role:    role,
		First:   deliveryID,
		Settled: true,
		State:   state,
	}}
}

// Detach builds a closing detach reply, optionally carrying err.
func Detach(channel uint16, handle uint32, err *encoding.Error) transport.Incoming {
	return transport.Incoming{Channel: channel, Body: &frames.PerformDetach{Handle: handle, Closed: true, Error: err}}
}

// SASLMechanisms builds the opening SASL mechanism offer.
func SASLMechanisms(mechs ...encoding.Symbol) transport.Incoming {
	return transport.Incoming{Channel: 0, Body: &frames.SASLMechanisms{Mechanisms: encoding.MultiSymbol(mechs)}}
}

// SASLOutcome builds a SASL outcome reply.
func SASLOutcome(code frames.SASLOutcomeCode) transport.Incoming {
	return transport.Incoming{Channel: 0, Body: &frames.SASLOutcome{Code: code}}
}

// Transfer builds an inbound delivery of sections on handle with the
// given delivery ID, pre-settled.
func Transfer(channel uint16, handle uint32, deliveryID uint32, sections *frames.MessageSections) transport.Incoming {
	did := deliveryID
	return transport.Incoming{Channel: channel, Body: &frames.PerformTransfer{
		Handle:      handle,
		DeliveryID:  &did,
		DeliveryTag: []byte{byte(deliveryID)},
		Settled:     true,
		Sections:    sections,
	}}
}
