package amqp

import (
	"context"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/request"
)

// unsubscribeProbe is a throwaway linkKind that attaches then immediately
// detaches a durable subscription's node, so Client.Unsubscribe can tell
// whether the peer retained it, per spec.md §5's "privileged connection
// session used for unsubscribe of durable subscriptions".
type unsubscribeProbe struct {
	sess *Session
	name string
	l    *link

	// notFound records that attach came back with a null Source: the peer
	// never retained this subscription. The probe still detaches (without
	// Closed=true, since there is no node to delete) so the link reaches
	// a terminal state either way.
	notFound bool
}

func (p *unsubscribeProbe) onAttached(resp *frames.PerformAttach) {
	p.notFound = resp.Source == nil
	p.l.closeLink(request.NoOp, !p.notFound)
}

func (p *unsubscribeProbe) onFlow(fr *frames.PerformFlow)         {}
func (p *unsubscribeProbe) onTransfer(fr *frames.PerformTransfer) {}

func (p *unsubscribeProbe) onDetached(err error) {
	switch {
	case p.notFound:
		p.sess.unsubscribe.Finish(p.name, ErrInvalidDestination)
	case err != nil:
		p.sess.unsubscribe.Finish(p.name, err)
	default:
		p.sess.unsubscribe.Finish(p.name, nil)
	}
}

// connSession lazily attaches the privileged session used purely for
// unsubscribe probes; it never carries application senders/receivers.
func (c *Client) connSession(ctx context.Context) (*Session, error) {
	if c.unsubSession != nil {
		return c.unsubSession, nil
	}
	sess, err := c.NewSession(ctx, &SessionOptions{})
	if err != nil {
		return nil, err
	}
	c.unsubSession = sess
	return sess, nil
}

// Unsubscribe deletes a durable subscription's node. It fails with
// ErrInvalidDestination if the peer reports (via a null Source on
// attach) that no such subscription exists, per spec.md §8 scenario 7;
// duplicate concurrent unsubscribe calls for the same name fail the
// later request immediately (spec.md §4.5).
func (c *Client) Unsubscribe(ctx context.Context, name string) error {
	sess, err := c.connSession(ctx)
	if err != nil {
		return err
	}

	fut := request.NewFuture()
	if err := sess.unsubscribe.Start(name, fut); err != nil {
		return err
	}

	if err := c.post(ctx, func() {
		probe := &unsubscribeProbe{sess: sess, name: name}
		l := newLink(sess, name, encoding.RoleReceiver, probe)
		probe.l = l
		l.source = &frames.Source{Durable: encoding.DurabilityUnsettledState, ExpiryPolicy: encoding.ExpiryPolicyNever}
		l.target = &frames.Target{}
		l.attach(request.NoOp)
	}); err != nil {
		sess.unsubscribe.Finish(name, err)
		return err
	}

	select {
	case <-fut.Done():
		return fut.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return ErrIllegalState
	}
}
