package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/amqp-jms-go/internal/frames"
	"github.com/relaylabs/amqp-jms-go/internal/mocks"
	"github.com/relaylabs/amqp-jms-go/internal/transport"
)

// handshakeResponder answers exactly the SASLInit/Open exchange every
// test's broker must complete before the connection's I/O task starts;
// individual tests layer additional cases on top by wrapping this.
func handshakeResponder(next mocks.Responder) mocks.Responder {
	return func(channel uint16, body frames.FrameBody) []transport.Incoming {
		switch body.(type) {
		case *frames.SASLInit:
			return []transport.Incoming{mocks.SASLOutcome(frames.SASLOutcomeOK)}
		case *frames.PerformOpen:
			return []transport.Incoming{mocks.Open("test-broker", 0)}
		}
		if next != nil {
			return next(channel, body)
		}
		return nil
	}
}

// newTestClient dials an amqp.Client against a mocks.Broker driven by
// respond, with the SASL/Open handshake already scripted. Callers only
// need to script replies to frames sent *after* the connection opens.
func newTestClient(t *testing.T, respond mocks.Responder) (*Client, *mocks.Broker) {
	t.Helper()
	broker := mocks.NewBroker(handshakeResponder(respond))
	broker.Push(mocks.SASLMechanisms("ANONYMOUS"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := ConnectionOptions{}
	c, err := dial(ctx, broker, opts.withDefaults())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, broker
}

// withLeakCheck adds goroutine-leak detection to a test, matching the
// teacher's own close/teardown tests. The check is registered with
// t.Cleanup so it runs after every cleanup registered later in the test,
// newTestClient's Close among them; the returned func does nothing.
func withLeakCheck(t *testing.T) func() {
	t.Cleanup(leaktest.Check(t))
	return func() {}
}
