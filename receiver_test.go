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

// TestReceiveOpaqueObjectMessage is spec.md §8 scenario 2: the engine
// must emit an accepted-settled disposition for a message delivered
// unsettled with opaque-object content-type.
func TestReceiveOpaqueObjectMessage(t *testing.T) {
	defer withLeakCheck(t)()

	disposed := make(chan *frames.PerformDisposition, 1)
	sess, broker := attachingSession(t, func(channel uint16, body frames.FrameBody) []transport.Incoming {
		if d, ok := body.(*frames.PerformDisposition); ok {
			disposed <- d
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rcv, err := sess.NewReceiver(ctx, "queue://orders", &ReceiverOptions{Prefetch: 10})
	require.NoError(t, err)

	sections := &frames.MessageSections{
		Header:     &frames.Header{Durable: true},
		Properties: &frames.Properties{ContentType: encoding.ContentTypeOpaqueObject},
		Data:       [][]byte{[]byte("expectedContent")},
	}
	// mocks.Transfer is pre-settled; this delivery must arrive unsettled.
	in := mocks.Transfer(sess.Channel(), rcv.l.remoteHandle, 0, sections)
	in.Body.(*frames.PerformTransfer).Settled = false
	broker.Push(in)

	msg, err := rcv.Receive(ctx)
	require.NoError(t, err)
	body, ok := msg.Body.(ObjectBody)
	require.True(t, ok)
	assert.Equal(t, []byte("expectedContent"), body.Opaque)

	select {
	case d := <-disposed:
		assert.True(t, d.Settled)
		_, ok := d.State.(*encoding.StateAccepted)
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no disposition emitted for received delivery")
	}
}

// TestReceiveTypedObjectMessageByAnnotation is spec.md §8 scenario 5.
func TestReceiveTypedObjectMessageByAnnotation(t *testing.T) {
	defer withLeakCheck(t)()

	sess, broker := attachingSession(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rcv, err := sess.NewReceiver(ctx, "queue://orders", &ReceiverOptions{Prefetch: 10})
	require.NoError(t, err)

	sections := &frames.MessageSections{
		MessageAnnotations: map[encoding.Symbol]any{encoding.AnnotationJMSMsgType: byte(encoding.JMSMsgTypeObject)},
		AMQPValue:          map[string]any{"key": "myObjectString"},
	}
	broker.Push(mocks.Transfer(sess.Channel(), rcv.l.remoteHandle, 0, sections))

	msg, err := rcv.Receive(ctx)
	require.NoError(t, err)
	body, ok := msg.Body.(ObjectBody)
	require.True(t, ok)
	assert.True(t, body.Typed)
	assert.Equal(t, map[string]any{"key": "myObjectString"}, body.Value)
}

// TestDurableUnsubscribeMissingSubscription is spec.md §8 scenario 7:
// a null-Source attach reply must fail with an invalid-destination
// error and leave no lingering pending-unsubscribe state.
func TestDurableUnsubscribeMissingSubscription(t *testing.T) {
	defer withLeakCheck(t)()

	responder := func(channel uint16, body frames.FrameBody) []transport.Incoming {
		switch fr := body.(type) {
		case *frames.PerformBegin:
			return []transport.Incoming{mocks.Begin(channel, channel)}
		case *frames.PerformAttach:
			ssm := encoding.SenderSettleModeMixed
			rsm := encoding.ReceiverSettleModeFirst
			return []transport.Incoming{mocks.AttachNullSource(channel, fr.Name, fr.Handle, ssm, rsm)}
		case *frames.PerformDetach:
			return []transport.Incoming{mocks.Detach(channel, fr.Handle, nil)}
		}
		return nil
	}

	c, _ := newTestClient(t, responder)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Unsubscribe(ctx, "sub1")
	require.Error(t, err)
	var amqpErr *Error
	require.ErrorAs(t, err, &amqpErr)
	assert.Equal(t, ErrKindResource, amqpErr.Kind)
	assert.Equal(t, 0, c.unsubSession.unsubscribe.Len())
}
