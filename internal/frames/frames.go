// Package frames defines the typed AMQP 1.0 performatives the protocol
// engine exchanges with its peer. The engine never encodes or decodes
// these to bytes itself: that is the job of the frame codec supplied
// through internal/transport, which is an external collaborator per
// spec.md §1/§6 ("The core consumes a typed performative stream").
package frames

import (
	"fmt"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
)

// FrameBody is implemented by every performative body.
type FrameBody interface {
	fmt.Stringer
	frameBody()
}

// PerformOpen is the connection-establishing performative.
type PerformOpen struct {
	ContainerID         string
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         uint32 // milliseconds; 0 means none advertised
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[encoding.Symbol]any
}

func (*PerformOpen) frameBody() {}
func (o *PerformOpen) String() string {
	return fmt.Sprintf("Open{ContainerID: %s, Hostname: %s, IdleTimeout: %dms}", o.ContainerID, o.Hostname, o.IdleTimeout)
}

// PerformClose ends the connection.
type PerformClose struct {
	Error *encoding.Error
}

func (*PerformClose) frameBody() {}
func (c *PerformClose) String() string { return fmt.Sprintf("Close{Error: %v}", c.Error) }

// PerformBegin establishes a session on a channel.
type PerformBegin struct {
	RemoteChannel  *uint16
	NextOutgoingID uint32
	IncomingWindow uint32
	OutgoingWindow uint32
	HandleMax      uint32
	Properties     map[encoding.Symbol]any
}

func (*PerformBegin) frameBody() {}
func (b *PerformBegin) String() string {
	return fmt.Sprintf("Begin{NextOutgoingID: %d, IncomingWindow: %d, OutgoingWindow: %d}", b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow)
}

// PerformEnd ends a session.
type PerformEnd struct {
	Error *encoding.Error
}

func (*PerformEnd) frameBody() {}
func (e *PerformEnd) String() string { return fmt.Sprintf("End{Error: %v}", e.Error) }

// Source describes the originating node of a link.
type Source struct {
	Address      string
	Durable      encoding.Durability
	ExpiryPolicy encoding.ExpiryPolicy
	Timeout      uint32
	Dynamic      bool
	Capabilities encoding.MultiSymbol
	// Filter carries the "jms-selector" filter when attaching. A null
	// Source as a whole in the attach reply, not a nil Filter, means "no
	// existing subscription".
	Filter map[encoding.Symbol]any
}

// Target describes the terminating node of a link.
type Target struct {
	Address      string
	Durable      encoding.Durability
	ExpiryPolicy encoding.ExpiryPolicy
	Timeout      uint32
	Dynamic      bool
	Capabilities encoding.MultiSymbol
}

// PerformAttach establishes a link within a session.
type PerformAttach struct {
	Name               string
	Handle             uint32
	Role               encoding.Role
	SenderSettleMode   *encoding.SenderSettleMode
	ReceiverSettleMode *encoding.ReceiverSettleMode
	Source             *Source
	Target             *Target
	Unsettled          map[string]encoding.DeliveryState
	InitialDeliveryCount uint32
	MaxMessageSize     uint64
	Properties         map[encoding.Symbol]any
}

func (*PerformAttach) frameBody() {}
func (a *PerformAttach) String() string {
	return fmt.Sprintf("Attach{Name: %s, Handle: %d, Role: %s}", a.Name, a.Handle, a.Role)
}

// PerformFlow carries session- and/or link-level flow control state.
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[encoding.Symbol]any
}

func (*PerformFlow) frameBody() {}
func (f *PerformFlow) String() string {
	return fmt.Sprintf("Flow{Handle: %v, LinkCredit: %v, DeliveryCount: %v}", f.Handle, f.LinkCredit, f.DeliveryCount)
}

// PerformTransfer conveys (a fragment of) a message delivery.
type PerformTransfer struct {
	Handle        uint32
	DeliveryID    *uint32
	DeliveryTag   []byte
	MessageFormat *uint32
	Settled       bool
	More          bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State         encoding.DeliveryState
	Resume        bool
	Aborted       bool
	Batchable     bool
	// Sections is the already-decomposed message payload. Per spec.md
	// §1/§6, turning this into (and out of) wire bytes is the frame
	// codec's job, not the engine's: Codec.Encode/Decode own the actual
	// AMQP-type serialization of a transfer's body, including
	// reassembling a delivery that spans multiple More-chained Transfer
	// frames into one complete MessageSections before it ever reaches
	// this struct.
	Sections *MessageSections
}

func (*PerformTransfer) frameBody() {}
func (t *PerformTransfer) String() string {
	return fmt.Sprintf("Transfer{Handle: %d, DeliveryID: %v, More: %t, Settled: %t}", t.Handle, t.DeliveryID, t.More, t.Settled)
}

// PerformDisposition communicates a settlement outcome for a delivery range.
type PerformDisposition struct {
	Role      encoding.Role
	First     uint32
	Last      *uint32
	Settled   bool
	State     encoding.DeliveryState
	Batchable bool
}

func (*PerformDisposition) frameBody() {}
func (d *PerformDisposition) String() string {
	return fmt.Sprintf("Disposition{Role: %s, First: %d, Last: %v, Settled: %t}", d.Role, d.First, d.Last, d.Settled)
}

// PerformDetach ends a link, optionally deleting its node when Closed is set.
type PerformDetach struct {
	Handle uint32
	Closed bool
	Error  *encoding.Error
}

func (*PerformDetach) frameBody() {}
func (d *PerformDetach) String() string {
	return fmt.Sprintf("Detach{Handle: %d, Closed: %t, Error: %v}", d.Handle, d.Closed, d.Error)
}

// Empty is the zero-length keep-alive frame sent to satisfy an
// idle-timeout negotiated on Open (spec.md §4.2).
type Empty struct{}

func (*Empty) frameBody() {}
func (*Empty) String() string { return "Empty{}" }

// SASL performatives, minimal subset required for PLAIN/ANONYMOUS.

type SASLMechanisms struct {
	Mechanisms encoding.MultiSymbol
}

func (*SASLMechanisms) frameBody() {}
func (s *SASLMechanisms) String() string { return fmt.Sprintf("SASLMechanisms{%v}", s.Mechanisms) }

type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (*SASLInit) frameBody() {}
func (s *SASLInit) String() string { return fmt.Sprintf("SASLInit{Mechanism: %s}", s.Mechanism) }

type SASLOutcomeCode uint8

const (
	SASLOutcomeOK   SASLOutcomeCode = 0
	SASLOutcomeAuth SASLOutcomeCode = 1
	SASLOutcomeSys  SASLOutcomeCode = 2
)

type SASLOutcome struct {
	Code SASLOutcomeCode
}

func (*SASLOutcome) frameBody() {}
func (s *SASLOutcome) String() string { return fmt.Sprintf("SASLOutcome{Code: %d}", s.Code) }
