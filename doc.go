// Package amqp implements the core protocol engine underlying a JMS-style
// client built on AMQP 1.0: connection, session and link state machines,
// request/response correlation for every asynchronous operation, a
// message-body codec bridge between typed AMQP sections and the public
// Message API, and credit-based flow-control/settlement bookkeeping.
//
// All engine state is owned by a single cooperative I/O task per
// connection; every application-facing method crosses onto that task by
// posting a closure and blocking on a completion future. Byte-level
// framing is delegated to a Transport/Codec pair supplied by the caller,
// so this package never encodes or decodes AMQP wire bytes itself.
package amqp
