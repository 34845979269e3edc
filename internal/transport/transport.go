// Package transport defines the two external collaborators spec.md §1/§6
// explicitly scope out of the protocol engine: the duplex byte transport
// (TCP/TLS/WebSocket) and the AMQP frame codec. The engine only ever talks
// to these two interfaces; internal/mocks supplies in-memory
// implementations for tests.
package transport

import (
	"github.com/relaylabs/amqp-jms-go/internal/frames"
)

// Listener receives transport lifecycle callbacks, per spec.md §6.
type Listener interface {
	OnData(buf []byte)
	OnTransportClosed()
	OnTransportError(cause error)
}

// Transport is the duplex byte stream contract from spec.md §6. The core
// never parses bytes itself.
type Transport interface {
	Connect() error
	IsConnected() bool
	Close() error
	Send(buf []byte) error
	AllocateSendBuffer(size int) []byte
	SetListener(l Listener)
}

// Codec turns typed performatives into wire bytes and back. Also an
// external collaborator (spec.md §1: "The low-level AMQP frame
// encoder/decoder ... The core consumes a typed performative stream").
type Codec interface {
	Encode(channel uint16, body frames.FrameBody) ([]byte, error)
	// Decode consumes as many leading bytes of buf as form one complete
	// frame, returning the frame, the channel it arrived on, and the
	// number of bytes consumed. An incomplete frame is reported via
	// ErrIncompleteFrame so the caller can retain the remainder.
	Decode(buf []byte) (channel uint16, body frames.FrameBody, consumed int, err error)
}

// ErrIncompleteFrame is returned by Codec.Decode when buf does not yet
// contain a whole frame.
var ErrIncompleteFrame = incompleteFrameErr{}

type incompleteFrameErr struct{}

func (incompleteFrameErr) Error() string { return "amqp: incomplete frame" }
