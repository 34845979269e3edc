package amqp

import (
	"context"
	"sync"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/queue"
	"github.com/relaylabs/amqp-jms-go/internal/request"
)

// inboundDelivery is one buffered, not-yet-returned-to-the-application
// delivery, per spec.md §4.4.2's prefetch buffer.
type inboundDelivery struct {
	id      uint32
	settled bool
	msg     *Message
}

// receiverBuffer is the prefetch buffer behind Receiver.Receive. It wraps
// queue.PriorityBuffer with the same "ready" channel-gating idiom as
// queue.Holder (internal/queue/queue.go), since PriorityBuffer itself has
// no mux-friendly wait primitive. Per spec.md §4.4.2, priority ordering
// applies only within whatever is currently buffered and never reorders
// anything that has already been returned from a Receive call.
type receiverBuffer struct {
	mu    sync.Mutex
	pb    queue.PriorityBuffer[*inboundDelivery]
	ready chan struct{}
	seq   uint64
}

func newReceiverBuffer() *receiverBuffer {
	return &receiverBuffer{ready: make(chan struct{}, 1)}
}

func (b *receiverBuffer) push(d *inboundDelivery, priority uint8) {
	b.mu.Lock()
	b.pb.Push(d, priority, b.seq)
	b.seq++
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *receiverBuffer) pop() (*inboundDelivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pb.Pop()
}

func (b *receiverBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pb.Len()
}

// Receiver receives messages on a single link, per spec.md §4.4.2.
type Receiver struct {
	l    link
	opts ReceiverOptions

	buf *receiverBuffer

	creditIssued uint32

	lastDeliveredID uint32
	lastAckedID     uint32
	haveDelivered   bool

	pendingErr error

	// durableNoExisting records that attach came back with a null Source,
	// meaning the broker had no existing retained subscription (spec.md
	// §4.1/§4.4.2): not a failure; DurableSubscriptionExisted reports it.
	durableNoExisting bool
}

func newReceiverLink(s *Session, source string, opts *ReceiverOptions) *Receiver {
	rcv := &Receiver{opts: *opts, buf: newReceiverBuffer()}
	rcv.l = *newLink(s, linkName("receiver", opts.Name), encoding.RoleReceiver, rcv)
	rcv.l.source = &frames.Source{Address: source}
	rcv.l.target = &frames.Target{}
	if opts.Durable {
		rcv.l.source.Durable = encoding.DurabilityUnsettledState
		rcv.l.source.ExpiryPolicy = encoding.ExpiryPolicyNever
		if opts.SubscriptionName != "" {
			rcv.l.name = opts.SubscriptionName
		}
	}
	if opts.Selector != "" {
		rcv.l.source.Filter = map[encoding.Symbol]any{"jms-selector": opts.Selector}
	}
	rcv.l.receiverSettleMode = opts.SettlementMode
	return rcv
}

// Address returns the link's source address.
func (r *Receiver) Address() string {
	if r.l.source == nil {
		return ""
	}
	return r.l.source.Address
}

// DurableSubscriptionExisted reports whether attach found a retained
// subscription (always true for non-durable receivers).
func (r *Receiver) DurableSubscriptionExisted() bool { return !r.durableNoExisting }

// Receive blocks until a message is available, ctx is done, or the
// receiver/session/connection fails.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	for {
		if d, ok := r.buf.pop(); ok {
			return r.deliverToApplication(d), nil
		}
		if r.pendingErr != nil {
			return nil, r.pendingErr
		}
		select {
		case <-r.buf.ready:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.l.session.client.doneCh:
			return nil, ErrIllegalState
		}
	}
}

func (r *Receiver) deliverToApplication(d *inboundDelivery) *Message {
	r.lastDeliveredID = d.id
	r.haveDelivered = true
	msg := d.msg
	msg.deliveryID = d.id
	msg.ackLink = r

	switch r.l.session.opts.AckMode {
	case AckModeAuto, AckModeDupsOK:
		if !d.settled {
			r.settle(d.id, &encoding.StateAccepted{})
		}
		msg.ackSettled = true
	case AckModeTransacted:
		msg.ackSettled = true // settled via commit/rollback, not Message.Ack
		r.l.session.txDeliveries = append(r.l.session.txDeliveries, msg)
	}
	return msg
}

// Acknowledge settles msg's delivery as accepted. Only that one delivery
// is settled: earlier deliveries that were received and not yet
// acknowledged stay unsettled until each is acknowledged itself.
func (r *Receiver) Acknowledge(ctx context.Context, msg *Message) error {
	if msg.ackSettled {
		return nil
	}
	fut := request.NewFuture()
	if err := r.l.session.client.post(ctx, func() {
		r.settle(msg.deliveryID, &encoding.StateAccepted{})
		r.lastAckedID = msg.deliveryID
		fut.OnSuccess()
	}); err != nil {
		return err
	}
	msg.ackSettled = true
	select {
	case <-fut.Done():
		return fut.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle must be called from the connection's I/O task.
func (r *Receiver) settle(id uint32, state encoding.DeliveryState) {
	r.l.session.client.conn.SendFrame(r.l.session.channel, &frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   id,
		Settled: true,
		State:   state,
	})
}

// maybeReplenish tops credit back up to the prefetch window once the
// credit still outstanding at the peer drops to at most half of it, per
// spec.md §4.4.2's "lazy replenishment at <=P/2" rule -- avoiding a flow
// round trip on every single delivery. Every arrived delivery counts as
// consumed here, whether or not Receive has returned it yet.
func (r *Receiver) maybeReplenish() {
	if r.opts.Prefetch <= 0 {
		return
	}
	outstanding := r.creditIssued
	if outstanding <= uint32(r.opts.Prefetch)/2 {
		r.issueCredit(uint32(r.opts.Prefetch))
	}
}

func (r *Receiver) issueCredit(n uint32) {
	handle := r.l.localHandle
	dc := r.l.deliveryCount
	r.creditIssued = n
	r.l.session.client.conn.SendFrame(r.l.session.channel, &frames.PerformFlow{
		Handle:         &handle,
		DeliveryCount:  &dc,
		LinkCredit:     &n,
		IncomingWindow: sessionWindow,
		OutgoingWindow: sessionWindow,
	})
}

// Close closes the Receiver's link. It detaches without deleting the
// node; close's deleteNode argument, when true, sends the detach with
// Closed set so the subscription's node is deleted.
func (r *Receiver) Close(ctx context.Context) error {
	return r.close(ctx, false)
}

func (r *Receiver) close(ctx context.Context, deleteNode bool) error {
	fut := request.NewFuture()
	if err := r.l.session.client.post(ctx, func() {
		r.l.closeLink(fut, deleteNode)
	}); err != nil {
		return err
	}
	select {
	case <-fut.Done():
		return fut.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-r.l.session.client.doneCh:
		return ErrIllegalState
	}
}

// linkKind implementation.

func (r *Receiver) onAttached(resp *frames.PerformAttach) {
	r.durableNoExisting = resp.Source == nil && r.opts.Durable
	if r.opts.Prefetch > 0 {
		r.issueCredit(uint32(r.opts.Prefetch))
	}
}

func (r *Receiver) onFlow(fr *frames.PerformFlow) {
	// A receiving link issues credit; it doesn't usually need to react to
	// inbound flow beyond an echo request, which isn't meaningful for a
	// receiver to answer (only the sender reports deliveryCount/available).
}

func (r *Receiver) onTransfer(fr *frames.PerformTransfer) {
	msg, err := Decode(fr.Sections)
	if err != nil {
		r.l.session.client.logger.Error(err, "dropping malformed delivery", "link", r.l.name)
		return
	}
	var id uint32
	if fr.DeliveryID != nil {
		id = *fr.DeliveryID
	}
	r.l.deliveryCount++
	if r.creditIssued > 0 {
		r.creditIssued--
	}
	priority := uint8(0)
	if r.opts.LocalMessagePriority || r.l.session.client.opts.LocalMessagePriority {
		priority = msg.Priority
	}
	r.buf.push(&inboundDelivery{id: id, settled: fr.Settled, msg: msg}, priority)
	r.maybeReplenish()
}

func (r *Receiver) onDetached(err error) {
	r.pendingErr = err
	select {
	case r.buf.ready <- struct{}{}:
	default:
	}
}
