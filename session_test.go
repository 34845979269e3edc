package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/mocks"
	"github.com/relaylabs/amqp-jms-go/internal/transport"
)

// TestClientAckRequiresExplicitAck exercises spec.md §4.3's CLIENT_ACKNOWLEDGE
// mode: the engine must not settle until Message.Ack is called, and Ack
// on the second of two received messages must emit a settled disposition.
func TestClientAckRequiresExplicitAck(t *testing.T) {
	defer withLeakCheck(t)()

	disposed := make(chan *frames.PerformDisposition, 4)
	sess, broker := attachingSessionWithAckMode(t, AckModeClient, func(channel uint16, body frames.FrameBody) []transport.Incoming {
		if d, ok := body.(*frames.PerformDisposition); ok {
			disposed <- d
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rcv, err := sess.NewReceiver(ctx, "queue://orders", &ReceiverOptions{Prefetch: 10})
	require.NoError(t, err)

	for i := uint32(0); i < 2; i++ {
		broker.Push(mocks.Transfer(sess.Channel(), rcv.l.remoteHandle, i, &frames.MessageSections{AMQPValue: "hi"}))
	}

	msg1, err := rcv.Receive(ctx)
	require.NoError(t, err)
	msg2, err := rcv.Receive(ctx)
	require.NoError(t, err)

	select {
	case <-disposed:
		t.Fatal("message was settled before Ack was called")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, msg2.Ack(ctx))
	_ = msg1

	select {
	case d := <-disposed:
		assert.True(t, d.Settled)
	case <-time.After(2 * time.Second):
		t.Fatal("Ack did not settle the delivery")
	}
}

func attachingSessionWithAckMode(t *testing.T, mode AckMode, extra mocks.Responder) (*Session, *mocks.Broker) {
	t.Helper()
	responder := func(channel uint16, body frames.FrameBody) []transport.Incoming {
		switch fr := body.(type) {
		case *frames.PerformBegin:
			return []transport.Incoming{mocks.Begin(channel, channel)}
		case *frames.PerformAttach:
			ssm := encoding.SenderSettleModeMixed
			rsm := encoding.ReceiverSettleModeFirst
			return []transport.Incoming{mocks.Attach(channel, fr.Name, fr.Handle, !fr.Role, ssm, rsm)}
		}
		if extra != nil {
			return extra(channel, body)
		}
		return nil
	}

	c, broker := newTestClient(t, responder)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := c.NewSession(ctx, &SessionOptions{AckMode: mode})
	require.NoError(t, err)
	return sess, broker
}
