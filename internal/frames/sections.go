package frames

import "github.com/relaylabs/amqp-jms-go/internal/encoding"

// MessageSections is the decomposed, typed view of a transfer's payload
// once the frame codec has parsed it into sections. The protocol engine's
// codec bridge (message.go at the repo root) only ever deals with this
// struct, never with raw bytes, per spec.md's scoping of the byte-level
// AMQP type codec out of the core.
type MessageSections struct {
	Header                *Header
	DeliveryAnnotations    map[encoding.Symbol]any
	MessageAnnotations     map[encoding.Symbol]any
	Properties             *Properties
	ApplicationProperties  map[string]any
	Data                   [][]byte
	AMQPValue              any
	AMQPSequence           []any
	Footer                 map[encoding.Symbol]any
}

// Header carries the standard AMQP message header fields.
type Header struct {
	Durable       bool
	Priority      uint8
	TTL           uint32 // milliseconds; 0 means no expiry
	FirstAcquirer bool
	DeliveryCount uint32
}

// Properties carries the standard AMQP properties section.
type Properties struct {
	MessageID          any
	UserID             []byte
	To                 string
	Subject            string
	ReplyTo            string
	CorrelationID      any
	ContentType        encoding.Symbol
	ContentEncoding    encoding.Symbol
	AbsoluteExpiryTime int64 // unix millis; 0 means unset
	CreationTime       int64 // unix millis; 0 means unset
	GroupID            string
	GroupSequence      uint32
	ReplyToGroupID     string
}
