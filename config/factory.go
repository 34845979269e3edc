// Package config builds amqp.ConnectionOptions from a remote URI plus
// jms.-prefixed query parameters, per spec.md §6's connection-factory
// surface. The protocol engine (amqp.Client et al.) never parses URIs
// itself; it only ever consumes the already-populated struct this
// package produces.
package config

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/relaylabs/amqp-jms-go"
)

// Factory holds a connection factory's configuration, mirroring the
// option groups spec.md §6 names: top-level scalars, the prefetch and
// redelivery policy groups, and the filtered remote URI.
type Factory struct {
	RemoteURI string

	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QueuePrefix string

	ForceSyncSend        bool
	ForceAsyncSend       bool
	LocalMessagePriority bool
	ForceAsyncAcks       bool

	ConnectTimeout time.Duration
	CloseTimeout   time.Duration

	PrefetchPolicy   amqp.PrefetchPolicy
	RedeliveryPolicy amqp.RedeliveryPolicy

	// unused carries non-jms.-prefixed query keys the factory did not
	// recognize, returned to the caller rather than erroring on them
	// (spec.md §6).
	unused map[string]string

	// exceptionListener is deliberately excluded from (de)serialization,
	// per spec.md §6's "round-tripping must preserve all options except
	// the user-registered exception listener".
	exceptionListener func(error)
}

// New parses remoteURI (e.g. "amqp://host:1234?jms.clientID=C1") into a
// Factory. jms.-prefixed query parameters are applied as option values;
// an unrecognized jms.-prefixed key is a fatal *multierror.Error entry
// rather than a first-error-wins failure, so every malformed option in
// one URI is reported together (spec.md §6, §8 scenario 6).
func New(remoteURI string) (*Factory, error) {
	u, err := url.Parse(remoteURI)
	if err != nil {
		return nil, &amqp.Error{Kind: amqp.ErrKindConfiguration}
	}

	f := &Factory{unused: map[string]string{}}
	f.PrefetchPolicy = amqp.DefaultPrefetchPolicy()
	f.ConnectTimeout = 15 * time.Second
	f.CloseTimeout = 15 * time.Second

	var errs *multierror.Error
	q := u.Query()
	for key, values := range q {
		val := ""
		if len(values) > 0 {
			val = values[0]
		}
		const prefix = "jms."
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			f.unused[key] = val
			continue
		}
		name := key[len(prefix):]
		if err := f.applyOption(name, val); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("jms.%s: %w", name, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("amqp: invalid connection-factory options: %w", err)
	}

	u.RawQuery = ""
	f.RemoteURI = u.String()
	return f, nil
}

// applyOption sets the jms.<name> option named on the factory, or
// returns an error identifying the unrecognized option (spec.md §6:
// "An unrecognized jms.-prefixed option is a fatal configuration
// error").
func (f *Factory) applyOption(name, val string) error {
	switch name {
	case "clientID":
		f.ClientID = val
	case "username":
		f.Username = val
	case "password":
		f.Password = val
	case "topicPrefix":
		f.TopicPrefix = val
	case "queuePrefix":
		f.QueuePrefix = val
	case "forceSyncSend":
		return setBool(&f.ForceSyncSend, val)
	case "forceAsyncSend":
		return setBool(&f.ForceAsyncSend, val)
	case "localMessagePriority":
		return setBool(&f.LocalMessagePriority, val)
	case "forceAsyncAcks":
		return setBool(&f.ForceAsyncAcks, val)
	case "connectTimeout":
		return setDurationMs(&f.ConnectTimeout, val)
	case "closeTimeout":
		return setDurationMs(&f.CloseTimeout, val)
	case "prefetchPolicy.queuePrefetch":
		return setInt(&f.PrefetchPolicy.QueuePrefetch, val)
	case "prefetchPolicy.topicPrefetch":
		return setInt(&f.PrefetchPolicy.TopicPrefetch, val)
	case "prefetchPolicy.durableTopicPrefetch":
		return setInt(&f.PrefetchPolicy.DurableTopicPrefetch, val)
	case "prefetchPolicy.queueBrowserPrefetch":
		return setInt(&f.PrefetchPolicy.QueueBrowserPrefetch, val)
	case "redeliveryPolicy.maxRedeliveries":
		return setInt(&f.RedeliveryPolicy.MaxRedeliveries, val)
	default:
		return fmt.Errorf("unrecognized option jms.%s", name)
	}
	return nil
}

func setBool(dst *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid boolean value %q", val)
	}
	*dst = b
	return nil
}

func setInt(dst *int, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid integer value %q", val)
	}
	*dst = n
	return nil
}

func setDurationMs(dst *time.Duration, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid duration (ms) value %q", val)
	}
	*dst = time.Duration(n) * time.Millisecond
	return nil
}

// SetExceptionListener installs a listener that will be copied onto
// every ConnectionOptions this factory produces, without affecting
// (de)serialization.
func (f *Factory) SetExceptionListener(l func(error)) { f.exceptionListener = l }

// SetProperties applies name/value pairs as if they had arrived as
// jms.-prefixed query parameters, per the round-trip law
// "setProperties(getProperties(cf)) == cf" (spec.md §8). A non-prefixed
// key is recorded as unused rather than erroring; an unrecognized or
// malformed jms.-prefixed entry is reported in the returned error.
func (f *Factory) SetProperties(props map[string]string) error {
	var errs *multierror.Error
	const prefix = "jms."
	for k, v := range props {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			f.unused[k] = v
			continue
		}
		if err := f.applyOption(k[len(prefix):], v); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errs.ErrorOrNil()
}

// GetProperties returns every recognized option as a jms.-prefixed
// name/value map, the inverse of SetProperties.
func (f *Factory) GetProperties() map[string]string {
	return map[string]string{
		"jms.clientID":                           f.ClientID,
		"jms.username":                            f.Username,
		"jms.password":                            f.Password,
		"jms.topicPrefix":                         f.TopicPrefix,
		"jms.queuePrefix":                         f.QueuePrefix,
		"jms.forceSyncSend":                       strconv.FormatBool(f.ForceSyncSend),
		"jms.forceAsyncSend":                      strconv.FormatBool(f.ForceAsyncSend),
		"jms.localMessagePriority":                strconv.FormatBool(f.LocalMessagePriority),
		"jms.forceAsyncAcks":                      strconv.FormatBool(f.ForceAsyncAcks),
		"jms.connectTimeout":                      strconv.FormatInt(f.ConnectTimeout.Milliseconds(), 10),
		"jms.closeTimeout":                        strconv.FormatInt(f.CloseTimeout.Milliseconds(), 10),
		"jms.prefetchPolicy.queuePrefetch":        strconv.Itoa(f.PrefetchPolicy.QueuePrefetch),
		"jms.prefetchPolicy.topicPrefetch":        strconv.Itoa(f.PrefetchPolicy.TopicPrefetch),
		"jms.prefetchPolicy.durableTopicPrefetch": strconv.Itoa(f.PrefetchPolicy.DurableTopicPrefetch),
		"jms.prefetchPolicy.queueBrowserPrefetch": strconv.Itoa(f.PrefetchPolicy.QueueBrowserPrefetch),
		"jms.redeliveryPolicy.maxRedeliveries":    strconv.Itoa(f.RedeliveryPolicy.MaxRedeliveries),
	}
}

// UnusedProperties returns the non-jms.-prefixed query keys this
// factory's URI carried but did not interpret (spec.md §8 scenario 6).
// The returned map is a defensive copy; mutating it has no effect on
// the factory.
func (f *Factory) UnusedProperties() map[string]string {
	out := make(map[string]string, len(f.unused))
	for k, v := range f.unused {
		out[k] = v
	}
	return out
}

// ConnectionOptions builds the amqp.ConnectionOptions this factory
// describes, for use with amqp.Dial.
func (f *Factory) ConnectionOptions() amqp.ConnectionOptions {
	return amqp.ConnectionOptions{
		ClientID:             f.ClientID,
		Username:             f.Username,
		Password:             f.Password,
		TopicPrefix:          f.TopicPrefix,
		QueuePrefix:          f.QueuePrefix,
		ForceSyncSend:        f.ForceSyncSend,
		ForceAsyncSend:       f.ForceAsyncSend,
		LocalMessagePriority: f.LocalMessagePriority,
		ForceAsyncAcks:       f.ForceAsyncAcks,
		ConnectTimeout:       f.ConnectTimeout,
		CloseTimeout:         f.CloseTimeout,
		PrefetchPolicy:       f.PrefetchPolicy,
		RedeliveryPolicy:     f.RedeliveryPolicy,
		ExceptionListener:    f.exceptionListener,
	}
}

// gobFactory is the exact subset of Factory that participates in
// (de)serialization: the exception listener is a func value and cannot
// be gob-encoded, and spec.md §6 excludes it from the round-trip
// explicitly, so it is never part of this shape.
type gobFactory struct {
	RemoteURI                                                   string
	ClientID, Username, Password, TopicPrefix, QueuePrefix      string
	ForceSyncSend, ForceAsyncSend, LocalMessagePriority, ForceAsyncAcks bool
	ConnectTimeout, CloseTimeout                                time.Duration
	PrefetchPolicy                                              amqp.PrefetchPolicy
	RedeliveryPolicy                                            amqp.RedeliveryPolicy
	Unused                                                      map[string]string
}

// Serialize encodes the factory with encoding/gob. Two factories with
// identical configuration serialize to byte-identical blobs, since gob
// encodes map keys in sorted order and every other field here is a
// plain scalar or struct (spec.md §8's determinism invariant).
func (f *Factory) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	g := gobFactory{
		RemoteURI:            f.RemoteURI,
		ClientID:             f.ClientID,
		Username:             f.Username,
		Password:             f.Password,
		TopicPrefix:          f.TopicPrefix,
		QueuePrefix:          f.QueuePrefix,
		ForceSyncSend:        f.ForceSyncSend,
		ForceAsyncSend:       f.ForceAsyncSend,
		LocalMessagePriority: f.LocalMessagePriority,
		ForceAsyncAcks:       f.ForceAsyncAcks,
		ConnectTimeout:       f.ConnectTimeout,
		CloseTimeout:         f.CloseTimeout,
		PrefetchPolicy:       f.PrefetchPolicy,
		RedeliveryPolicy:     f.RedeliveryPolicy,
		Unused:               f.unused,
	}
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, fmt.Errorf("amqp: serialize connection factory: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize reverses Serialize. The returned factory's exception
// listener is always nil, matching spec.md §6.
func Deserialize(blob []byte) (*Factory, error) {
	var g gobFactory
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&g); err != nil {
		return nil, fmt.Errorf("amqp: deserialize connection factory: %w", err)
	}
	f := &Factory{
		RemoteURI:            g.RemoteURI,
		ClientID:             g.ClientID,
		Username:             g.Username,
		Password:             g.Password,
		TopicPrefix:          g.TopicPrefix,
		QueuePrefix:          g.QueuePrefix,
		ForceSyncSend:        g.ForceSyncSend,
		ForceAsyncSend:       g.ForceAsyncSend,
		LocalMessagePriority: g.LocalMessagePriority,
		ForceAsyncAcks:       g.ForceAsyncAcks,
		ConnectTimeout:       g.ConnectTimeout,
		CloseTimeout:         g.CloseTimeout,
		PrefetchPolicy:       g.PrefetchPolicy,
		RedeliveryPolicy:     g.RedeliveryPolicy,
		unused:               g.Unused,
	}
	if f.unused == nil {
		f.unused = map[string]string{}
	}
	return f, nil
}
