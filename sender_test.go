package amqp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/mocks"
	"github.com/relaylabs/amqp-jms-go/internal/transport"
)

// attachingSession spins up a Client+Session whose broker auto-attaches
// every link by echoing back whatever name/handle it was asked for, and
// lets the caller further script behavior (dispositions, transfers) via
// extra.
func attachingSession(t *testing.T, extra mocks.Responder) (*Session, *mocks.Broker) {
	t.Helper()
	var mu sync.Mutex

	responder := func(channel uint16, body frames.FrameBody) []transport.Incoming {
		switch fr := body.(type) {
		case *frames.PerformBegin:
			return []transport.Incoming{mocks.Begin(channel, channel)}
		case *frames.PerformAttach:
			ssm := encoding.SenderSettleModeMixed
			rsm := encoding.ReceiverSettleModeFirst
			if fr.SenderSettleMode != nil {
				ssm = *fr.SenderSettleMode
			}
			if fr.ReceiverSettleMode != nil {
				rsm = *fr.ReceiverSettleMode
			}
			mu.Lock()
			defer mu.Unlock()
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
	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)
	return sess, broker
}

// TestSendOpaqueObjectMessage is spec.md §8 scenario 1.
func TestSendOpaqueObjectMessage(t *testing.T) {
	defer withLeakCheck(t)()

	captured := make(chan *frames.PerformTransfer, 1)
	sess, _ := attachingSession(t, func(channel uint16, body frames.FrameBody) []transport.Incoming {
		if tr, ok := body.(*frames.PerformTransfer); ok {
			captured <- tr
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snd, err := sess.NewSender(ctx, "queue://orders", nil)
	require.NoError(t, err)

	msg := &Message{Body: ObjectBody{Opaque: []byte("myObjectString")}}
	require.NoError(t, snd.Send(ctx, msg, &SendOptions{Settled: true}))

	select {
	case tr := <-captured:
		require.NotNil(t, tr.Sections)
		require.NotNil(t, tr.Sections.Header)
		assert.True(t, tr.Sections.Header.Durable)
		// the only annotation is the JMS type tag Encode always stamps
		assert.Len(t, tr.Sections.MessageAnnotations, 1)
		require.NotNil(t, tr.Sections.Properties)
		assert.Equal(t, encoding.ContentTypeOpaqueObject, tr.Sections.Properties.ContentType)
		require.Len(t, tr.Sections.Data, 1)
		assert.Equal(t, []byte("myObjectString"), tr.Sections.Data[0])
	case <-time.After(2 * time.Second):
		t.Fatal("transfer was not observed")
	}
}

// TestSendTypedObjectMessage is spec.md §8 scenario 4.
func TestSendTypedObjectMessage(t *testing.T) {
	defer withLeakCheck(t)()

	captured := make(chan *frames.PerformTransfer, 1)
	sess, _ := attachingSession(t, func(channel uint16, body frames.FrameBody) []transport.Incoming {
		if tr, ok := body.(*frames.PerformTransfer); ok {
			captured <- tr
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snd, err := sess.NewSender(ctx, "queue://orders", nil)
	require.NoError(t, err)

	msg := &Message{Body: ObjectBody{Typed: true, Value: map[string]any{"key": "myObjectString"}}}
	require.NoError(t, snd.Send(ctx, msg, &SendOptions{Settled: true}))

	select {
	case tr := <-captured:
		require.Nil(t, tr.Sections.Data)
		assert.Equal(t, map[string]any{"key": "myObjectString"}, tr.Sections.AMQPValue)
	case <-time.After(2 * time.Second):
		t.Fatal("transfer was not observed")
	}
}

// TestSendForceSyncBlocksUntilDisposition exercises spec.md §4.4.1's
// synchronous send mode: Send must not return until the scripted
// disposition arrives.
func TestSendForceSyncBlocksUntilDisposition(t *testing.T) {
	defer withLeakCheck(t)()

	release := make(chan struct{})
	sess, broker := attachingSession(t, func(channel uint16, body frames.FrameBody) []transport.Incoming {
		if _, ok := body.(*frames.PerformTransfer); ok {
			<-release
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snd, err := sess.NewSender(ctx, "queue://orders", &SenderOptions{ForceSync: true})
	require.NoError(t, err)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- snd.Send(ctx, &Message{Body: TextBody("hi")}, nil)
	}()

	select {
	case err := <-sendErr:
		t.Fatalf("Send returned before disposition arrived: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	broker.Push(mocks.Disposition(sess.Channel(), encoding.RoleReceiver, 0, &encoding.StateAccepted{}))

	select {
	case err := <-sendErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Send never returned after disposition")
	}
}

func TestSendRejectedDispositionReturnsDeliveryError(t *testing.T) {
	defer withLeakCheck(t)()

	sess, broker := attachingSession(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snd, err := sess.NewSender(ctx, "queue://orders", &SenderOptions{ForceSync: true})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		broker.Push(mocks.Disposition(sess.Channel(), encoding.RoleReceiver, 0, &encoding.StateRejected{
			Error: &encoding.Error{Condition: encoding.ErrCondNotAllowed, Description: "nope"},
		}))
	}()

	err = snd.Send(ctx, &Message{Body: TextBody("hi")}, nil)
	require.Error(t, err)
	var delErr *DeliveryError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, "rejected", delErr.Outcome)
}
