// Package invoker turns raw inbound messages into handler invocations: it
// parses the subject, extracts the trace, decodes the payload and runs the
// endpoint handler through the configured middleware chain. All four
// subscription hosts dispatch through the same bound pipeline, so behavior
// does not depend on delivery mode.
package invoker

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/endpoint"
	"github.com/tesseract-hub/go-messaging/natsclient"
	"github.com/tesseract-hub/go-messaging/tracing"
)

// Invoker binds descriptors into ready-to-dispatch pipelines.
type Invoker struct {
	log        *logrus.Logger
	serializer natsclient.Serializer
	middleware []Middleware
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithSerializer replaces the default JSON payload serializer.
func WithSerializer(s natsclient.Serializer) Option {
	return func(inv *Invoker) { inv.serializer = s }
}

// WithMiddleware appends middleware. The first registered middleware is the
// outermost wrapper.
func WithMiddleware(mw ...Middleware) Option {
	return func(inv *Invoker) { inv.middleware = append(inv.middleware, mw...) }
}

// New builds an invoker.
func New(log *logrus.Logger, opts ...Option) *Invoker {
	inv := &Invoker{
		log:        log,
		serializer: natsclient.JSONSerializer{},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Bound is one descriptor with its middleware chain precompiled, so the hot
// path does no per-message wrapping.
type Bound struct {
	desc       *endpoint.Descriptor
	handler    endpoint.HandlerFunc
	serializer natsclient.Serializer
	log        *logrus.Logger
}

// Bind precompiles the pipeline for one descriptor.
func (inv *Invoker) Bind(d *endpoint.Descriptor) *Bound {
	h := d.Handler
	for i := len(inv.middleware) - 1; i >= 0; i-- {
		h = inv.middleware[i](h)
	}
	return &Bound{
		desc:       d,
		handler:    h,
		serializer: inv.serializer,
		log:        inv.log,
	}
}

// Descriptor returns the bound endpoint descriptor.
func (b *Bound) Descriptor() *endpoint.Descriptor { return b.desc }

// Invoke runs one inbound message through the pipeline. The returned value
// is non-nil only for request-reply endpoints.
func (b *Bound) Invoke(ctx context.Context, subj string, headers nats.Header, body []byte) (any, error) {
	d := b.desc

	trace := tracing.FromHeaders(headers)
	ctx = tracing.NewContext(ctx, trace)

	req, err := b.decode(body)
	if err != nil {
		return nil, err
	}

	entry := b.log.WithFields(logrus.Fields{
		"endpoint":  d.Controller + "." + d.Action,
		"subject":   subj,
		"traceId":   trace.TraceID,
		"requestId": trace.RequestID,
	})

	return b.handler(ctx, &endpoint.Invocation{
		Subject: subj,
		Headers: headers,
		Params:  d.ParseSubject(subj),
		Body:    body,
		Request: req,
		Trace:   trace,
		Logger:  entry,
	})
}

// decode unmarshals the body into a fresh request value. Endpoints without a
// request type, and empty bodies, decode to nil.
func (b *Bound) decode(body []byte) (any, error) {
	d := b.desc
	if !d.HasRequest || d.NewRequest == nil || len(body) == 0 {
		return nil, nil
	}
	req := d.NewRequest()
	if err := b.serializer.Unmarshal(body, req); err != nil {
		return nil, apperrors.Validation("Endpoint.BadRequest", "cannot decode request payload: "+err.Error())
	}
	return req, nil
}
