package amqp

import (
	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/resource"
)

// linkKind lets the shared link struct dispatch inbound performatives to
// sender- or receiver-specific logic without a class hierarchy, matching
// spec.md §9's guidance applied here to link roles too: one small
// interface, not a base class.
//
// This replaces the teacher's per-link mux goroutine (link.go's
// waitForFrame/muxHandleFrame/muxClose): spec.md §5 mandates a single
// cooperative I/O task for the whole connection, so there is no link mux
// to hand frames to. Session routes directly into these callbacks on
// its own call stack, already running on the connection's I/O task.
type linkKind interface {
	// onAttached runs once, right after a successful attach, so the
	// concrete link can send its initial flow (receiver) or note
	// role-specific attach fields (sender).
	onAttached(resp *frames.PerformAttach)
	onFlow(fr *frames.PerformFlow)
	onTransfer(fr *frames.PerformTransfer)
	// onDetached lets the concrete link record that the link went away
	// (Receiver.Receive then returns err). Sends already waiting for a
	// disposition are not failed by it; they wait until their context
	// ends. err is nil on a clean, requested detach.
	onDetached(err error)
}

// link holds the state and lifecycle shared by Sender and Receiver, per
// spec.md §4.4's shared "link engine" framing. It is always embedded,
// never used standalone, mirroring the teacher's link struct.
type link struct {
	name            string
	role            encoding.Role
	localHandle     uint32
	remoteHandle    uint32
	hasRemoteHandle bool

	session *Session
	res     resource.Machine

	source *frames.Source
	target *frames.Target

	senderSettleMode   *encoding.SenderSettleMode
	receiverSettleMode *encoding.ReceiverSettleMode
	maxMessageSize     uint64

	kind linkKind

	// deliveryCount tracks the link-credit sequence number; see
	// spec.md §3 invariants and §4.4 "Link-level flow". "Despite its
	// name, the delivery-count is not a count but a sequence number
	// initialized at an arbitrary point by the sender" (carried over
	// from the teacher's comment on the same field).
	deliveryCount uint32
}

func newLink(s *Session, name string, role encoding.Role, kind linkKind) *link {
	return &link{name: name, role: role, session: s, kind: kind}
}

// attach sends our Attach performative and registers the pending open
// request. Must be called on the session's I/O task.
func (l *link) attach(req resource.Request) {
	l.localHandle = l.session.allocateLocalHandle(l)
	l.session.registerPendingAttach(l.name, l)

	_ = l.res.Open(req, func() {
		l.session.client.conn.SendFrame(l.session.channel, &frames.PerformAttach{
			Name:               l.name,
			Handle:             l.localHandle,
			Role:               l.role,
			SenderSettleMode:   l.senderSettleMode,
			ReceiverSettleMode: l.receiverSettleMode,
			Source:             l.source,
			Target:             l.target,
			MaxMessageSize:     l.maxMessageSize,
		})
	})
}

// onAttachReply is invoked by Session when the correlated Attach arrives,
// correlated by Name since the remote's Handle belongs to its own,
// independent numbering space (spec.md §4.3's handle map is keyed by the
// *remote's* handle for exactly this reason).
//
// "If the remote encounters an error during the attach it returns an
// Attach with no Source or Target. The remote then sends a Detach with
// an error" -- for a non-durable link that is a hard failure; for a
// durable-subscription receiver a null Source alone (Target still set)
// instead means "no existing subscription", handled via close-pending
// rather than as an error (spec.md §4.1/§4.4.2).
func (l *link) onAttachReply(resp *frames.PerformAttach) {
	l.remoteHandle = resp.Handle
	l.hasRemoteHandle = true
	l.session.linksByRemoteHandle[resp.Handle] = l

	if resp.Source == nil && l.role == encoding.RoleReceiver {
		l.res.MarkClosePending()
	}
	if resp.Source != nil {
		l.source = resp.Source
	}
	if resp.Target != nil {
		l.target = resp.Target
	}
	if resp.MaxMessageSize != 0 && (l.maxMessageSize == 0 || resp.MaxMessageSize < l.maxMessageSize) {
		l.maxMessageSize = resp.MaxMessageSize
	}
	rsm := encoding.ReceiverSettleModeFirst
	if resp.ReceiverSettleMode != nil {
		rsm = *resp.ReceiverSettleMode
	}
	l.receiverSettleMode = &rsm
	ssm := encoding.SenderSettleModeMixed
	if resp.SenderSettleMode != nil {
		ssm = *resp.SenderSettleMode
	}
	l.senderSettleMode = &ssm

	l.res.OnRemoteOpened()
	l.kind.onAttached(resp)
}

// closeLink requests the link be detached; closed=true deletes the node
// (used for durable-subscription unsubscribe), closed=false just ends a
// non-durable link.
func (l *link) closeLink(req resource.Request, closed bool) {
	_ = l.res.Close(req, func() {
		l.session.client.conn.SendFrame(l.session.channel, &frames.PerformDetach{
			Handle: l.localHandle,
			Closed: closed,
		})
	})
}

// onDetach handles an inbound Detach for this link. onDetached fires at
// most once: OnRemoteClosed already invokes onFailChildren (and so
// l.kind.onDetached) for the unsolicited-error case, so the fallback
// switch below only runs when that didn't happen. A clean detach the
// peer starts on its own does not call onDetached.
func (l *link) onDetach(fr *frames.PerformDetach) {
	var err error
	if fr.Error != nil {
		err = wireError(ErrKindResource, fr.Error)
	}
	wasClosingLocal := l.res.State() == resource.ClosingLocal
	l.session.forgetLink(l)

	notified := false
	l.res.OnRemoteClosed(err, func(e error) {
		notified = true
		l.kind.onDetached(e)
	})
	if notified {
		return
	}
	switch {
	case err != nil:
		l.kind.onDetached(err)
	case wasClosingLocal:
		l.kind.onDetached(nil)
	}
}

// forceDetach is used when the parent session/connection is failing and
// must cascade-close its children (spec.md §3 "Parent lifetime strictly
// dominates children").
func (l *link) forceDetach(err error) {
	l.session.forgetLink(l)
	l.res.OnRemoteClosed(err, func(e error) { l.kind.onDetached(e) })
}
