package amqp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/relaylabs/amqp-jms-go/internal/encoding"
	"github.com/relaylabs/amqp-jms-go/internal/frames"
)

// nativeSerialize is a stand-in for the application's language-native
// object serialization (out of scope per spec.md §1); tests just need a
// deterministic byte encoding of a string.
func nativeSerialize(s string) []byte { return []byte(s) }

// Scenario 1 (spec.md §8): send opaque ObjectMessage.
func TestEncodeOpaqueObjectMessage(t *testing.T) {
	m := &Message{Body: ObjectBody{Opaque: nativeSerialize("myObjectString")}}

	sections, err := Encode(m, "", "")
	assert.NoError(t, err)
	assert.True(t, sections.Header.Durable)
	assert.Equal(t, encoding.ContentTypeOpaqueObject, sections.Properties.ContentType)
	assert.Equal(t, [][]byte{[]byte("myObjectString")}, sections.Data)

	// "empty message-annotations" (spec.md §8 scenario 1) is read as "no
	// annotations beyond the mandatory JMS type tag" per spec.md §4.7's
	// unconditional "always include" rule; see DESIGN.md.
	assert.Len(t, sections.MessageAnnotations, 1)
	assert.Equal(t, byte(encoding.JMSMsgTypeObject), sections.MessageAnnotations[encoding.AnnotationJMSMsgType])
}

// Scenario 2: receive opaque ObjectMessage, identified by content-type
// alone since no annotation is present on the wire.
func TestDecodeOpaqueObjectMessageByContentType(t *testing.T) {
	sections := &frames.MessageSections{
		Properties: &frames.Properties{ContentType: encoding.ContentTypeOpaqueObject},
		Data:       [][]byte{nativeSerialize("expectedContent")},
	}
	msg, err := Decode(sections)
	assert.NoError(t, err)
	ob, ok := msg.Body.(ObjectBody)
	assert.True(t, ok)
	assert.False(t, ob.Typed)
	assert.Equal(t, "expectedContent", string(ob.Opaque))
}

// Scenario 3: receive-then-resend must reproduce the same wire body.
func TestReceiveThenResendOpaqueObjectMessageIsBitIdentical(t *testing.T) {
	original := &frames.MessageSections{
		Properties: &frames.Properties{ContentType: encoding.ContentTypeOpaqueObject},
		Data:       [][]byte{nativeSerialize("expectedContent")},
	}
	msg, err := Decode(original)
	assert.NoError(t, err)

	resent, err := Encode(msg, "", "")
	assert.NoError(t, err)
	assert.Equal(t, original.Data, resent.Data)
}

// Scenario 4: send typed ObjectMessage.
func TestEncodeTypedObjectMessage(t *testing.T) {
	body := map[string]any{"key": "myObjectString"}
	m := &Message{Body: ObjectBody{Typed: true, Value: body}}

	sections, err := Encode(m, "", "")
	assert.NoError(t, err)
	assert.Equal(t, body, sections.AMQPValue)
	assert.Empty(t, sections.Data)
	// Open Question resolution: no content-type stamped for typed bodies.
	assert.Equal(t, encoding.Symbol(""), sections.Properties.ContentType)
}

// Scenario 5: receive typed ObjectMessage by annotation.
func TestDecodeTypedObjectMessageByAnnotation(t *testing.T) {
	body := map[string]any{"key": "myObjectString"}
	sections := &frames.MessageSections{
		MessageAnnotations: map[encoding.Symbol]any{encoding.AnnotationJMSMsgType: byte(encoding.JMSMsgTypeObject)},
		AMQPValue:          body,
	}
	msg, err := Decode(sections)
	assert.NoError(t, err)
	ob, ok := msg.Body.(ObjectBody)
	assert.True(t, ok)
	assert.True(t, ob.Typed)
	assert.Equal(t, body, ob.Value)
}

func TestRoundTripEveryBodyFlavour(t *testing.T) {
	cases := []Body{
		TextBody("hello"),
		BytesBody([]byte{1, 2, 3}),
		MapBody(map[string]any{"a": int32(1)}),
		StreamBody([]any{"x", int32(2)}),
		ObjectBody{Opaque: []byte("blob")},
		ObjectBody{Typed: true, Value: map[string]any{"k": "v"}},
	}
	for _, body := range cases {
		m := &Message{Body: body}
		sections, err := Encode(m, "", "")
		assert.NoError(t, err)
		got, err := Decode(sections)
		assert.NoError(t, err)
		if diff := cmp.Diff(body, got.Body); diff != "" {
			t.Fatalf("round trip mismatch for %T (-want +got):\n%s", body, diff)
		}
	}
}

func TestDestinationPrefixRewriting(t *testing.T) {
	m := &Message{To: "orders", ToKind: DestinationQueue, Body: TextBody("x")}
	sections, err := Encode(m, "topic://", "queue://")
	assert.NoError(t, err)
	assert.Equal(t, "queue://orders", sections.Properties.To)
}
