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

// TestTransactedCommitSettlesBufferedDeliveries exercises spec.md §4.3's
// transacted ack mode: messages received under AckModeTransacted are not
// settled until Commit, and Commit settles them all wrapped in the
// active transaction's id.
func TestTransactedCommitSettlesBufferedDeliveries(t *testing.T) {
	defer withLeakCheck(t)()

	const txnIDStr = "txn-1"
	disposed := make(chan *frames.PerformDisposition, 4)

	responder := func(channel uint16, body frames.FrameBody) []transport.Incoming {
		switch fr := body.(type) {
		case *frames.PerformBegin:
			return []transport.Incoming{mocks.Begin(channel, channel)}
		case *frames.PerformAttach:
			ssm := encoding.SenderSettleModeMixed
			rsm := encoding.ReceiverSettleModeFirst
			return []transport.Incoming{mocks.Attach(channel, fr.Name, fr.Handle, !fr.Role, ssm, rsm)}
		case *frames.PerformTransfer:
			switch fr.Sections.AMQPValue.(type) {
			case *encoding.TransactionDeclare:
				return []transport.Incoming{mocks.Disposition(channel, encoding.RoleReceiver, *fr.DeliveryID,
					&encoding.StateDeclared{TransactionID: []byte(txnIDStr)})}
			case *encoding.TransactionDischarge:
				return []transport.Incoming{mocks.Disposition(channel, encoding.RoleReceiver, *fr.DeliveryID,
					&encoding.StateAccepted{})}
			}
			return nil
		case *frames.PerformDisposition:
			disposed <- fr
			return nil
		}
		return nil
	}

	c, broker := newTestClient(t, responder)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := c.NewSession(ctx, &SessionOptions{AckMode: AckModeTransacted, Transacted: true})
	require.NoError(t, err)

	tc, err := sess.NewTransactionController(ctx)
	require.NoError(t, err)

	txn, err := tc.Declare(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(txnIDStr), txn)

	rcv, err := sess.NewReceiver(ctx, "queue://orders", &ReceiverOptions{Prefetch: 10})
	require.NoError(t, err)
	broker.Push(mocks.Transfer(sess.Channel(), rcv.l.remoteHandle, 1, &frames.MessageSections{AMQPValue: "hi"}))

	msg, err := rcv.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, msg.ackSettled) // settled via commit, not Message.Ack

	select {
	case <-disposed:
		t.Fatal("delivery settled before Commit")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, sess.Commit(ctx, tc))

	select {
	case d := <-disposed:
		st, ok := d.State.(*encoding.StateTransactional)
		require.True(t, ok)
		assert.Equal(t, []byte(txnIDStr), st.TransactionID)
	case <-time.After(2 * time.Second):
		t.Fatal("Commit did not settle the buffered delivery")
	}
}
