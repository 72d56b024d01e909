// Package endpoint models one handler bound to one subject pattern in one
// delivery mode. Descriptors are produced by an explicit registration
// builder and are immutable once the catalog is built; the subscription
// hosts read them concurrently without locking.
package endpoint

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/subject"
	"github.com/tesseract-hub/go-messaging/tracing"
)

// Mode is the delivery topology an endpoint is served by.
type Mode int

const (
	ModeRequestReply Mode = iota
	ModeCorePubSub
	ModeJetStreamConsume
	ModeJetStreamFetch
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeRequestReply:
		return "request-reply"
	case ModeCorePubSub:
		return "core-pubsub"
	case ModeJetStreamConsume:
		return "jetstream-consume"
	case ModeJetStreamFetch:
		return "jetstream-fetch"
	default:
		return "unknown"
	}
}

// DeliveryMode selects the transport family for endpoints without a response.
type DeliveryMode int

const (
	DeliveryJetStream DeliveryMode = iota
	DeliveryCore
)

// ConsumerMode selects how a JetStream endpoint drains its consumer.
type ConsumerMode int

const (
	// ConsumerConsume is a continuous push-style iterator; messages are
	// handled as soon as the broker delivers them.
	ConsumerConsume ConsumerMode = iota
	// ConsumerFetch polls in batches; suited to on-demand or scheduled
	// workloads where immediate consumption is not required.
	ConsumerFetch
)

// Invocation is the per-message scope handed to handlers: the inbound
// subject, headers and placeholder bindings, the decoded request, a logger
// scoped to the endpoint and the inbound trace. It replaces back-references
// into the framework with a single explicit value.
type Invocation struct {
	Subject string
	Headers nats.Header
	Params  Params
	Body    []byte
	// Request is the decoded payload, or nil when the endpoint declares no
	// request type or the body was empty.
	Request any
	Trace   tracing.Context
	Logger  *logrus.Entry
}

// HandlerFunc is the uniform shape every endpoint handler is adapted to.
// Request-reply endpoints return a non-nil result; all others return nil.
type HandlerFunc func(ctx context.Context, inv *Invocation) (any, error)

// Descriptor is the immutable record the hosts dispatch from.
type Descriptor struct {
	Controller string // suffix-stripped controller name
	Action     string
	Version    string
	Pattern    string // raw pattern, with placeholders
	Mode       Mode
	Connection string // "" means the configured default
	Stream     string
	Consumer   string

	HasRequest  bool
	HasResponse bool
	// NewRequest allocates a fresh decode target; nil when HasRequest is
	// false.
	NewRequest func() any

	// Params lists placeholder bindings in pattern order with their target
	// kinds, fixed at build time.
	Params []ParamSpec

	Handler HandlerFunc
}

// ResolvedSubject is the concrete subscribe string for this endpoint.
func (d *Descriptor) ResolvedSubject() string {
	return subject.Resolve(d.Pattern, d.Controller, d.Action, d.Version)
}

// ParseSubject binds the placeholders of an actual inbound subject.
func (d *Descriptor) ParseSubject(actual string) Params {
	raw := subject.ParseSubject(d.Pattern, d.Controller, d.Action, d.Version, actual)
	return NewParams(raw)
}

// defaultStream is "{controller}_v{version}_stream", lowercase.
func defaultStream(controller, version string) string {
	return strings.ToLower(controller + "_v" + version + "_stream")
}

// defaultConsumer is "{controller}_{action}_consumer", lowercase.
func defaultConsumer(controller, action string) string {
	return strings.ToLower(controller + "_" + action + "_consumer")
}
