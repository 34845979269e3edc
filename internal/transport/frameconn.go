package transport

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/relaylabs/amqp-jms-go/internal/frames"
)

// Incoming is a decoded performative together with the channel it arrived
// on.
type Incoming struct {
	Channel uint16
	Body    frames.FrameBody
}

// FrameConn is the boundary the connection engine actually programs
// against: "send a performative", "receive a stream of performatives".
// CodecTransport is the production implementation, bridging the raw byte
// Transport and Codec collaborators; internal/mocks provides a fake for
// tests that never touches bytes at all.
type FrameConn interface {
	SendFrame(channel uint16, body frames.FrameBody) error
	Frames() <-chan Incoming
	Closed() <-chan struct{}
	Err() error
	Close() error
}

// CodecTransport adapts a raw byte Transport plus Codec into a FrameConn,
// exactly the "external collaborators" composition spec.md §1/§6
// describes: the engine consumes a typed performative stream, something
// else turns that into bytes on a socket.
type CodecTransport struct {
	t     Transport
	codec Codec

	mu      sync.Mutex
	partial []byte

	frames chan Incoming
	closed chan struct{}
	once   sync.Once
	err    error
}

// NewCodecTransport wires t and codec together and starts consuming
// inbound bytes. Call Connect before use.
func NewCodecTransport(t Transport, codec Codec) *CodecTransport {
	c := &CodecTransport{
		t:      t,
		codec:  codec,
		frames: make(chan Incoming, 16),
		closed: make(chan struct{}),
	}
	t.SetListener(c)
	return c
}

func (c *CodecTransport) Connect() error { return c.t.Connect() }

func (c *CodecTransport) SendFrame(channel uint16, body frames.FrameBody) error {
	buf, err := c.codec.Encode(channel, body)
	if err != nil {
		return errors.Wrap(err, "amqp: encode frame")
	}
	return c.t.Send(buf)
}

func (c *CodecTransport) Frames() <-chan Incoming { return c.frames }
func (c *CodecTransport) Closed() <-chan struct{} { return c.closed }
func (c *CodecTransport) Err() error              { return c.err }

func (c *CodecTransport) Close() error { return c.t.Close() }

// OnData implements Listener: it's invoked by the transport with bytes it
// owns only for the duration of the call, so we copy before decoding.
func (c *CodecTransport) OnData(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partial = append(c.partial, buf...)
	for {
		channel, body, consumed, err := c.codec.Decode(c.partial)
		if err == ErrIncompleteFrame {
			return
		}
		if err != nil {
			c.fail(errors.Wrap(err, "amqp: decode frame"))
			return
		}
		c.partial = c.partial[consumed:]
		select {
		case c.frames <- Incoming{Channel: channel, Body: body}:
		case <-c.closed:
			return
		}
		if len(c.partial) == 0 {
			return
		}
	}
}

func (c *CodecTransport) OnTransportClosed() {
	c.once.Do(func() { close(c.closed) })
}

func (c *CodecTransport) OnTransportError(cause error) {
	c.mu.Lock()
	c.fail(cause)
	c.mu.Unlock()
}

// fail must be called with mu held.
func (c *CodecTransport) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.once.Do(func() { close(c.closed) })
}
