package endpoint

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/subject"
)

// Binding is the result of adapting a typed handler into the uniform
// HandlerFunc shape. It carries what the adapter learned about the handler's
// signature so registration can pick the delivery mode.
type Binding struct {
	Handler     HandlerFunc
	HasRequest  bool
	HasResponse bool
	NewRequest  func() any
}

// RequestReply adapts a typed request/response handler. Endpoints built from
// it are always served over core NATS request-reply.
func RequestReply[Req, Resp any](fn func(ctx context.Context, inv *Invocation, req *Req) (*Resp, error)) Binding {
	return Binding{
		HasRequest:  true,
		HasResponse: true,
		NewRequest:  func() any { return new(Req) },
		Handler: func(ctx context.Context, inv *Invocation) (any, error) {
			req, err := typedRequest[Req](inv)
			if err != nil {
				return nil, err
			}
			resp, err := fn(ctx, inv, req)
			if err != nil || resp == nil {
				// A typed nil must not leak into the any result, or the
				// reply path would serialize a phantom response.
				return nil, err
			}
			return resp, nil
		},
	}
}

// Consume adapts a typed one-way handler. The delivery mode is JetStream by
// default and can be switched per endpoint with WithDelivery or
// WithConsumerMode.
func Consume[Req any](fn func(ctx context.Context, inv *Invocation, req *Req) error) Binding {
	return Binding{
		HasRequest: true,
		NewRequest: func() any { return new(Req) },
		Handler: func(ctx context.Context, inv *Invocation) (any, error) {
			req, err := typedRequest[Req](inv)
			if err != nil {
				return nil, err
			}
			return nil, fn(ctx, inv, req)
		},
	}
}

// Notify adapts a payload-free handler: subject and params carry everything.
func Notify(fn func(ctx context.Context, inv *Invocation) error) Binding {
	return Binding{
		Handler: func(ctx context.Context, inv *Invocation) (any, error) {
			return nil, fn(ctx, inv)
		},
	}
}

func typedRequest[Req any](inv *Invocation) (*Req, error) {
	if inv.Request == nil {
		// Empty body on an endpoint that declares a request type: hand the
		// handler a zero value rather than a nil it must guard against.
		return new(Req), nil
	}
	req, ok := inv.Request.(*Req)
	if !ok {
		return nil, apperrors.Unexpected("Endpoint.RequestType", "decoded request has unexpected type")
	}
	return req, nil
}

// ControllerOption configures defaults shared by every endpoint of a
// controller.
type ControllerOption func(*Controller)

// WithControllerVersion overrides the API version for all endpoints.
func WithControllerVersion(v string) ControllerOption {
	return func(c *Controller) { c.version = v }
}

// WithControllerConnection pins all endpoints to a named connection.
func WithControllerConnection(name string) ControllerOption {
	return func(c *Controller) { c.connection = name }
}

// WithControllerStream overrides the default stream for all JetStream
// endpoints of the controller.
func WithControllerStream(stream string) ControllerOption {
	return func(c *Controller) { c.stream = stream }
}

// EndpointOption configures a single endpoint at registration time.
type EndpointOption func(*endpointSettings)

type endpointSettings struct {
	version    string
	connection string
	stream     string
	consumer   string
	delivery   DeliveryMode
	consume    ConsumerMode
	paramKinds map[string]ParamKind
}

// WithVersion overrides the API version for one endpoint.
func WithVersion(v string) EndpointOption {
	return func(s *endpointSettings) { s.version = v }
}

// WithConnection serves the endpoint on a named connection.
func WithConnection(name string) EndpointOption {
	return func(s *endpointSettings) { s.connection = name }
}

// WithStream overrides the derived stream name.
func WithStream(stream string) EndpointOption {
	return func(s *endpointSettings) { s.stream = stream }
}

// WithConsumer overrides the derived durable consumer name.
func WithConsumer(consumer string) EndpointOption {
	return func(s *endpointSettings) { s.consumer = consumer }
}

// WithDelivery selects the transport family for response-free endpoints. It
// has no effect on request-reply endpoints.
func WithDelivery(d DeliveryMode) EndpointOption {
	return func(s *endpointSettings) { s.delivery = d }
}

// WithConsumerMode selects continuous or batch draining for JetStream
// endpoints.
func WithConsumerMode(m ConsumerMode) EndpointOption {
	return func(s *endpointSettings) { s.consume = m }
}

// WithParamKind declares the scalar kind of one subject placeholder.
// Placeholders without a declared kind bind as strings.
func WithParamKind(name string, kind ParamKind) EndpointOption {
	return func(s *endpointSettings) {
		if s.paramKinds == nil {
			s.paramKinds = make(map[string]ParamKind)
		}
		s.paramKinds[strings.ToLower(name)] = kind
	}
}

// Controller groups the endpoints of one logical message controller. The
// type name passed to NewController has its Controller/EventController
// suffix stripped before it is used in subjects.
type Controller struct {
	name       string
	version    string
	connection string
	stream     string

	endpoints []*Descriptor
}

// NewController starts a registration builder for the named controller.
func NewController(name string, opts ...ControllerOption) *Controller {
	c := &Controller{
		name:    subject.StripControllerSuffix(name),
		version: subject.DefaultVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle registers one endpoint. The delivery mode follows the binding and
// options: a response forces request-reply; otherwise core delivery yields
// plain pub-sub, and JetStream delivery yields a continuous or batch
// consumer per WithConsumerMode.
func (c *Controller) Handle(action, pattern string, b Binding, opts ...EndpointOption) *Controller {
	s := endpointSettings{
		version:    c.version,
		connection: c.connection,
		stream:     c.stream,
	}
	for _, opt := range opts {
		opt(&s)
	}

	mode := ModeJetStreamConsume
	switch {
	case b.HasResponse:
		mode = ModeRequestReply
	case s.delivery == DeliveryCore:
		mode = ModeCorePubSub
	case s.consume == ConsumerFetch:
		mode = ModeJetStreamFetch
	}

	d := &Descriptor{
		Controller:  c.name,
		Action:      action,
		Version:     s.version,
		Pattern:     pattern,
		Mode:        mode,
		Connection:  s.connection,
		HasRequest:  b.HasRequest,
		HasResponse: b.HasResponse,
		NewRequest:  b.NewRequest,
		Handler:     b.Handler,
	}

	for _, name := range subject.PlaceholderNames(pattern) {
		kind := ParamString
		if k, ok := s.paramKinds[name]; ok {
			kind = k
		}
		d.Params = append(d.Params, ParamSpec{Name: name, Kind: kind})
	}

	if mode == ModeJetStreamConsume || mode == ModeJetStreamFetch {
		d.Stream = s.stream
		if d.Stream == "" {
			d.Stream = defaultStream(c.name, s.version)
		}
		d.Consumer = s.consumer
		if d.Consumer == "" {
			d.Consumer = defaultConsumer(c.name, action)
		}
	}

	c.endpoints = append(c.endpoints, d)
	return c
}

// Endpoints returns the registered descriptors in registration order.
func (c *Controller) Endpoints() []*Descriptor {
	return c.endpoints
}

// DecodeRequest unmarshals a body into a fresh request value for the
// descriptor, or returns nil when the endpoint has no request type or the
// body is empty.
func (d *Descriptor) DecodeRequest(body []byte) (any, error) {
	if !d.HasRequest || d.NewRequest == nil || len(body) == 0 {
		return nil, nil
	}
	req := d.NewRequest()
	if err := json.Unmarshal(body, req); err != nil {
		return nil, apperrors.Validation("Endpoint.BadRequest", "request payload is not valid JSON: "+err.Error())
	}
	return req, nil
}

// QueueGroup is the queue-group name request-reply endpoints subscribe
// under, so horizontal replicas share the load.
func (d *Descriptor) QueueGroup() string {
	return strings.ToLower(d.Controller)
}
