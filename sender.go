package amqp

import (
	"context"
	"encoding/binary"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/request"
)

// Sender sends messages on a single link, per spec.md §4.4.1.
type Sender struct {
	l link

	opts SenderOptions

	nextDeliveryTag uint64
	availableCredit uint32

	// closeOnDispositionError mirrors the teacher's Azure Service Bus
	// accommodation field. newSenderLink always sets it true and
	// outcomeError ignores it: a non-accepted outcome never closes the link.
	closeOnDispositionError bool

	pendingErr error
}

func newSenderLink(s *Session, target string, opts *SenderOptions) *Sender {
	snd := &Sender{opts: *opts, closeOnDispositionError: true}
	snd.l = *newLink(s, linkName("sender", opts.Name), encoding.RoleSender, snd)
	snd.l.target = &frames.Target{Address: target}
	snd.l.source = &frames.Source{}
	snd.l.senderSettleMode = opts.SettlementMode
	return snd
}

// Address returns the link's target address.
func (s *Sender) Address() string {
	if s.l.target == nil {
		return ""
	}
	return s.l.target.Address
}

// MaxMessageSize is the maximum size of a single message, as negotiated
// at attach time; zero means unbounded.
func (s *Sender) MaxMessageSize() uint64 { return s.l.maxMessageSize }

// SendOptions configures a single Send call.
type SendOptions struct {
	// Settled forces this one delivery to be sent pre-settled, overriding
	// the sender's mixed settlement mode for just this message.
	Settled bool
}

// Send encodes msg and transfers it on this link, per spec.md §4.4.1's
// sync/async send modes. For an unsettled delivery it blocks until the
// peer's disposition arrives if the effective mode is synchronous
// (ForceSync, or ReceiverSettleModeSecond requiring round-trip
// confirmation), otherwise it returns as soon as the transfer has been
// handed to the connection's I/O task.
func (s *Sender) Send(ctx context.Context, msg *Message, opts *SendOptions) error {
	select {
	case <-s.l.session.client.doneCh:
		return ErrIllegalState
	default:
	}

	sections, err := Encode(msg, s.l.session.client.opts.TopicPrefix, s.l.session.client.opts.QueuePrefix)
	if err != nil {
		return err
	}

	settled := false
	if s.l.senderSettleMode != nil {
		switch *s.l.senderSettleMode {
		case encoding.SenderSettleModeSettled:
			settled = true
		case encoding.SenderSettleModeMixed:
			settled = opts != nil && opts.Settled
		}
	}

	copts := s.l.session.client.opts
	forceSync := s.opts.ForceSync || (copts.ForceSyncSend && !s.opts.ForceAsync)
	forceAsync := (s.opts.ForceAsync || copts.ForceAsyncSend) && !forceSync
	waitForConfirm := !settled && (forceSync || (!forceAsync && s.wantsSecondConfirm()))

	var done chan encoding.DeliveryState
	if waitForConfirm {
		done = make(chan encoding.DeliveryState, 1)
	}

	if err := s.l.session.client.post(ctx, func() {
		if s.pendingErr != nil {
			return
		}
		tag := make([]byte, 8)
		binary.BigEndian.PutUint64(tag, s.nextDeliveryTag)
		s.nextDeliveryTag++
		id := s.l.session.nextDelivery()
		fr := &frames.PerformTransfer{
			Handle:      s.l.localHandle,
			DeliveryID:  &id,
			DeliveryTag: tag,
			Settled:     settled,
			Sections:    sections,
		}
		if done != nil {
			s.l.session.registerInflight(id, done)
		}
		s.l.session.client.conn.SendFrame(s.l.session.channel, fr)
		s.l.deliveryCount++
		if s.availableCredit > 0 {
			s.availableCredit--
		}
	}); err != nil {
		return err
	}

	if !waitForConfirm {
		return nil
	}

	select {
	case state := <-done:
		return outcomeError(state, s.closeOnDispositionError)
	case <-ctx.Done():
		return ctx.Err()
	case <-s.l.session.client.doneCh:
		return ErrIllegalState
	}
}

// sendValue sends value as a bare amqp-value body and returns the
// resulting delivery-state. Used internally by TransactionController to
// exchange Declare/Discharge control frames with the coordinator link
// (spec.md §4.4.3), bypassing the public Message/Body model since those
// control values are never application messages.
func (s *Sender) sendValue(ctx context.Context, value any) (encoding.DeliveryState, error) {
	sections := &frames.MessageSections{AMQPValue: value}
	done := make(chan encoding.DeliveryState, 1)
	if err := s.l.session.client.post(ctx, func() {
		id := s.l.session.nextDelivery()
		tag := make([]byte, 8)
		binary.BigEndian.PutUint64(tag, s.nextDeliveryTag)
		s.nextDeliveryTag++
		s.l.session.registerInflight(id, done)
		s.l.session.client.conn.SendFrame(s.l.session.channel, &frames.PerformTransfer{
			Handle:      s.l.localHandle,
			DeliveryID:  &id,
			DeliveryTag: tag,
			Sections:    sections,
		})
		s.l.deliveryCount++
	}); err != nil {
		return nil, err
	}
	select {
	case state := <-done:
		return state, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.l.session.client.doneCh:
		return nil, ErrIllegalState
	}
}

func (s *Sender) wantsSecondConfirm() bool {
	return s.l.receiverSettleMode != nil && *s.l.receiverSettleMode == encoding.ReceiverSettleModeSecond
}

// outcomeError turns a non-accepted delivery outcome into a DeliveryError.
func outcomeError(state encoding.DeliveryState, _ bool) error {
	switch st := state.(type) {
	case *encoding.StateAccepted, nil:
		return nil
	case *encoding.StateRejected:
		return &DeliveryError{Error: wireError(ErrKindDelivery, st.Error), Outcome: "rejected"}
	case *encoding.StateReleased:
		return &DeliveryError{Error: newError(ErrKindDelivery, "delivery released"), Outcome: "released"}
	case *encoding.StateModified:
		return &DeliveryError{Error: newError(ErrKindDelivery, "delivery modified"), Outcome: "modified"}
	default:
		return nil
	}
}

// Close closes the Sender's link.
func (s *Sender) Close(ctx context.Context) error {
	fut := request.NewFuture()
	if err := s.l.session.client.post(ctx, func() {
		s.l.closeLink(fut, false)
	}); err != nil {
		return err
	}
	select {
	case <-fut.Done():
		return fut.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-s.l.session.client.doneCh:
		return ErrIllegalState
	}
}

// linkKind implementation.

func (s *Sender) onAttached(resp *frames.PerformAttach) {}

func (s *Sender) onFlow(fr *frames.PerformFlow) {
	if fr.LinkCredit == nil {
		return
	}
	credit := *fr.LinkCredit
	if fr.DeliveryCount != nil {
		credit += *fr.DeliveryCount - s.l.deliveryCount
	}
	s.availableCredit = credit

	if !fr.Echo {
		return
	}
	deliveryCount := s.l.deliveryCount
	handle := s.l.localHandle
	s.l.session.client.conn.SendFrame(s.l.session.channel, &frames.PerformFlow{
		Handle:        &handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    &credit,
	})
}

func (s *Sender) onTransfer(fr *frames.PerformTransfer) {
	// A sending link never receives transfers; a peer that sends one here
	// is violating the protocol, logged and ignored rather than crashing
	// the connection over a single misbehaving delivery.
	s.l.session.client.logger.V(0).Info("unexpected transfer on sending link", "link", s.l.name)
}

func (s *Sender) onDetached(err error) {
	s.pendingErr = err
}
