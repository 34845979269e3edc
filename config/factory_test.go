package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestURIPrecedence is spec.md §8 scenario 6: a jms.clientID query
// parameter and a directly-set field both take effect, the URI is
// stored with the query filtered out, and an unrecognized non-prefixed
// key surfaces as unused rather than erroring.
func TestURIPrecedence(t *testing.T) {
	f, err := New("amqp://host:1234?jms.clientID=C1&someOtherFlag=1")
	require.NoError(t, err)

	f.QueuePrefix = "q:"

	assert.Equal(t, "C1", f.ClientID)
	assert.Equal(t, "q:", f.QueuePrefix)
	assert.Equal(t, "amqp://host:1234", f.RemoteURI)
	assert.Equal(t, map[string]string{"someOtherFlag": "1"}, f.UnusedProperties())
}

func TestUnrecognizedJMSOptionIsFatal(t *testing.T) {
	_, err := New("amqp://host:1234?jms.bogusOption=true")
	require.Error(t, err)
}

// TestMultipleBadOptionsAggregate exercises the go-multierror
// aggregation spec.md §6's "factory's option-bean validation" calls
// for: two malformed options in one URI should both be reported.
func TestMultipleBadOptionsAggregate(t *testing.T) {
	_, err := New("amqp://host:1234?jms.forceSyncSend=notabool&jms.connectTimeout=notanumber")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forceSyncSend")
	assert.Contains(t, err.Error(), "connectTimeout")
}

func TestSetPropertiesGetPropertiesRoundTrip(t *testing.T) {
	f, err := New("amqp://host:1234")
	require.NoError(t, err)
	f.ClientID = "C2"
	f.PrefetchPolicy.QueuePrefetch = 42

	props := f.GetProperties()

	f2, err := New("amqp://host:1234")
	require.NoError(t, err)
	require.NoError(t, f2.SetProperties(props))

	assert.Equal(t, f.ClientID, f2.ClientID)
	assert.Equal(t, f.PrefetchPolicy, f2.PrefetchPolicy)
}

// TestSerializeDeterministic is spec.md §8's "serializing a factory,
// then deserializing, then serializing yields byte-identical output to
// the first serialization" invariant, plus the exception-listener
// exclusion.
func TestSerializeDeterministic(t *testing.T) {
	f, err := New("amqp://host:1234?jms.clientID=C1")
	require.NoError(t, err)
	f.SetExceptionListener(func(error) {})

	blob1, err := f.Serialize()
	require.NoError(t, err)

	f2, err := Deserialize(blob1)
	require.NoError(t, err)

	blob2, err := f2.Serialize()
	require.NoError(t, err)

	assert.Equal(t, blob1, blob2)
	assert.Nil(t, f2.exceptionListener)
}

func TestTwoIdenticalFactoriesSerializeIdentically(t *testing.T) {
	f1, err := New("amqp://host:1234?jms.clientID=C1&jms.queuePrefix=q%3A")
	require.NoError(t, err)
	f2, err := New("amqp://host:1234?jms.clientID=C1&jms.queuePrefix=q%3A")
	require.NoError(t, err)

	b1, err := f1.Serialize()
	require.NoError(t, err)
	b2, err := f2.Serialize()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}
