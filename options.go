package amqp

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/transport"
)

// AckMode selects a session's acknowledgement policy (spec.md §4.3).
type AckMode uint8

const (
	AckModeAuto AckMode = iota
	AckModeClient
	AckModeDupsOK
	AckModeTransacted
)

// PrefetchPolicy mirrors the connection-factory option group from
// spec.md §6.
type PrefetchPolicy struct {
	QueuePrefetch         int
	TopicPrefetch         int
	DurableTopicPrefetch  int
	QueueBrowserPrefetch  int
}

// DefaultPrefetchPolicy matches qpid-jms's own defaults.
func DefaultPrefetchPolicy() PrefetchPolicy {
	return PrefetchPolicy{
		QueuePrefetch:        1000,
		TopicPrefetch:        1000,
		DurableTopicPrefetch: 100,
		QueueBrowserPrefetch: 0,
	}
}

// RedeliveryPolicy mirrors spec.md §6's redeliveryPolicy group.
type RedeliveryPolicy struct {
	MaxRedeliveries int
}

// ConnectionOptions configures Client.Dial. Parsing these from a URI is
// the config package's job (spec.md §1 scopes URI parsing out of the
// core); the core only ever consumes this already-populated struct.
type ConnectionOptions struct {
	ClientID     string
	Username     string
	Password     string
	TopicPrefix  string
	QueuePrefix  string

	ForceSyncSend    bool
	ForceAsyncSend   bool
	LocalMessagePriority bool
	ForceAsyncAcks   bool

	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	// IdleTimeout is our own advertised idle timeout on Open; 0 advertises
	// none. Heartbeat cadence and the no-frames-received failure are both
	// driven by the peer's advertised idle timeout, not by this value.
	// spec.md §4.2.
	IdleTimeout time.Duration

	PrefetchPolicy   PrefetchPolicy
	RedeliveryPolicy RedeliveryPolicy

	Logger          logr.Logger
	ExceptionListener func(error)
}

func (o *ConnectionOptions) withDefaults() ConnectionOptions {
	out := *o
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = 15 * time.Second
	}
	if out.CloseTimeout == 0 {
		out.CloseTimeout = 15 * time.Second
	}
	if out.Logger.GetSink() == nil {
		out.Logger = logr.Discard()
	}
	var zero PrefetchPolicy
	if out.PrefetchPolicy == zero {
		out.PrefetchPolicy = DefaultPrefetchPolicy()
	}
	return out
}

// SessionOptions configures Client.NewSession.
type SessionOptions struct {
	AckMode    AckMode
	Transacted bool
}

// Durability mirrors the AMQP source/target durability used for durable
// subscriptions (spec.md §3 ResourceInfo).
type Durability = encoding.Durability

const (
	DurabilityNone           = encoding.DurabilityNone
	DurabilityConfiguration  = encoding.DurabilityConfiguration
	DurabilityUnsettledState = encoding.DurabilityUnsettledState
)

// SenderSettleMode / ReceiverSettleMode re-exported for the public API.
type SenderSettleMode = encoding.SenderSettleMode
type ReceiverSettleMode = encoding.ReceiverSettleMode

const (
	SenderSettleModeUnsettled = encoding.SenderSettleModeUnsettled
	SenderSettleModeSettled   = encoding.SenderSettleModeSettled
	SenderSettleModeMixed     = encoding.SenderSettleModeMixed

	ReceiverSettleModeFirst  = encoding.ReceiverSettleModeFirst
	ReceiverSettleModeSecond = encoding.ReceiverSettleModeSecond
)

// SenderOptions configures Session.NewSender.
type SenderOptions struct {
	Name           string
	SettlementMode *SenderSettleMode
	// ForceSync / ForceAsync override the connection-wide
	// ForceSyncSend / ForceAsyncSend setting for this one sender, per
	// spec.md §4.4.1; ForceSync wins when both are set.
	ForceSync  bool
	ForceAsync bool
}

// ReceiverOptions configures Session.NewReceiver.
type ReceiverOptions struct {
	Name                string
	SettlementMode      *ReceiverSettleMode
	Durable             bool
	SubscriptionName    string
	Prefetch            int
	LocalMessagePriority bool
	// Selector is accepted for parity with qpid-jms and is passed through
	// as the link Source's "jms-selector" filter; the engine does not
	// itself interpret selector syntax (broker concern).
	Selector string
}

// Transport/codec plumbing, re-exported so callers can assemble a Client
// without reaching into internal/transport directly.
type Transport = transport.Transport
type Listener = transport.Listener
type Codec = transport.Codec
