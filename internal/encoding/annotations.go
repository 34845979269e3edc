package encoding

// JMS-specific message-annotation and property constants. These are pure
// data, per spec.md §9 ("Global factory state... Static well-known
// constants... are pure data"); no behavior lives here.

// AnnotationJMSMsgType is the message-annotations key that tags a
// delivery's body flavour so a receiving client can pick the right
// in-memory representation without sniffing the section type alone.
const AnnotationJMSMsgType Symbol = "x-opt-jms-msg-type"

// JMSMsgType is the value carried under AnnotationJMSMsgType.
type JMSMsgType byte

const (
	JMSMsgTypeUnknown JMSMsgType = 0
	JMSMsgTypeObject  JMSMsgType = 1
	JMSMsgTypeMap     JMSMsgType = 2
	JMSMsgTypeBytes   JMSMsgType = 3
	JMSMsgTypeStream  JMSMsgType = 4
	JMSMsgTypeText    JMSMsgType = 5
)

// ContentTypeOpaqueObject is the stable, reserved content-type symbol for
// an ObjectMessage whose body is an opaque, application-serialized blob.
// Implementations must match it exactly for interop with other AMQP JMS
// clients.
const ContentTypeOpaqueObject Symbol = "application/x-java-serialized-object"

// AnnotationJMSDestination / AnnotationJMSReplyTo are the destination-type
// annotations used by JMS on top of bare AMQP addresses.
const (
	AnnotationJMSDestination Symbol = "x-opt-jms-dest"
	AnnotationJMSReplyTo     Symbol = "x-opt-jms-reply-to"
)

// JMSDestinationType distinguishes queue/topic/temporary addressing on the
// annotations above.
type JMSDestinationType byte

const (
	JMSDestinationQueue          JMSDestinationType = 0
	JMSDestinationTopic          JMSDestinationType = 1
	JMSDestinationTempQueue      JMSDestinationType = 2
	JMSDestinationTempTopic      JMSDestinationType = 3
)
