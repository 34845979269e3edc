package amqp

import (
	"context"

	"github.com/google/uuid"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
)

// TransactionController interacts with the transaction coordinator for a
// session opened with AckModeTransacted, per spec.md §4.4.3. Grounded on
// the teacher's TransactionController, adapted from a standalone
// Declare/Discharge API into the Commit/Rollback pair a JMS-shaped
// session needs and wired into Session's own buffered-acknowledgement
// bookkeeping.
type TransactionController struct {
	sender *Sender

	currentTxnID []byte
}

// Declare begins a new transaction, returning its coordinator-assigned
// id.
func (tc *TransactionController) Declare(ctx context.Context) ([]byte, error) {
	state, err := tc.sender.sendValue(ctx, &encoding.TransactionDeclare{GlobalID: uuid.NewString()})
	if err != nil {
		return nil, err
	}
	declared, ok := state.(*encoding.StateDeclared)
	if !ok {
		return nil, newError(ErrKindProtocol, "coordinator did not return a declared transaction id")
	}
	tc.currentTxnID = declared.TransactionID
	return declared.TransactionID, nil
}

// Discharge ends the current transaction, committing it unless fail is
// true (a rollback).
func (tc *TransactionController) Discharge(ctx context.Context, fail bool) error {
	if tc.currentTxnID == nil {
		return newError(ErrKindApplication, "no transaction is active")
	}
	_, err := tc.sender.sendValue(ctx, &encoding.TransactionDischarge{TransactionID: tc.currentTxnID, Fail: fail})
	tc.currentTxnID = nil
	return err
}

// Close closes the coordinator link.
func (tc *TransactionController) Close(ctx context.Context) error {
	return tc.sender.Close(ctx)
}

// Commit ends the session's current transaction, accepting every message
// buffered under AckModeTransacted since the last Commit/Rollback and
// discharging the AMQP transaction as a success (spec.md §4.3).
func (s *Session) Commit(ctx context.Context, tc *TransactionController) error {
	return s.endTransaction(ctx, tc, false)
}

// Rollback ends the session's current transaction, releasing every
// buffered message for redelivery (or returning it modified with
// delivery-failed set once its delivery count reaches
// RedeliveryPolicy.MaxRedeliveries) and discharging the AMQP transaction
// as a failure.
func (s *Session) Rollback(ctx context.Context, tc *TransactionController) error {
	return s.endTransaction(ctx, tc, true)
}

func (s *Session) endTransaction(ctx context.Context, tc *TransactionController, fail bool) error {
	pending := s.txDeliveries
	s.txDeliveries = nil

	maxRedeliveries := s.client.opts.RedeliveryPolicy.MaxRedeliveries

	fut := make(chan error, 1)
	if err := s.client.post(ctx, func() {
		for _, msg := range pending {
			r := msg.ackLink
			if r == nil {
				continue
			}
			var outcome encoding.DeliveryState = &encoding.StateAccepted{}
			if fail {
				// Below the redelivery limit the delivery is simply
				// released for another attempt; once exhausted it is
				// returned modified with delivery-failed set, so the
				// sender's own delivery-count increment takes effect
				// for what is now a terminal redelivery (spec.md §4.3).
				if maxRedeliveries > 0 && int(msg.DeliveryCount) >= maxRedeliveries {
					outcome = &encoding.StateModified{DeliveryFailed: true}
				} else {
					outcome = &encoding.StateReleased{}
				}
			}
			wrapped := &encoding.StateTransactional{TransactionID: tc.currentTxnID, Outcome: outcome}
			r.settle(msg.deliveryID, wrapped)
		}
		fut <- nil
	}); err != nil {
		return err
	}
	select {
	case <-fut:
	case <-ctx.Done():
		return ctx.Err()
	}

	return tc.Discharge(ctx, fail)
}
