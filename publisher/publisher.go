// Package publisher is the outbound side of the messaging core: a per
// connection client that stamps trace headers on every message, wraps
// JetStream publishes in retry plus a circuit breaker, and maps request
// reply failures onto the shared error model.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/config"
	"github.com/tesseract-hub/go-messaging/natsclient"
	"github.com/tesseract-hub/go-messaging/tracing"
)

// HeaderError marks a request-reply response body as an error envelope.
const HeaderError = "X-Error"

// ErrorEnvelope is the wire shape of a failed request-reply response. Status
// is the numeric HTTP-equivalent of the kind, for callers that only speak
// status codes; Kind stays authoritative when decoding.
type ErrorEnvelope struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// DefaultRequestTimeout bounds request-reply round trips when the caller's
// context carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Factory hands out one cached Client per named connection.
type Factory struct {
	registry   *natsclient.Registry
	cfg        config.ResilienceConfig
	log        *logrus.Logger
	serializer natsclient.Serializer

	mu      sync.Mutex
	clients map[string]*Client
}

// NewFactory builds a publisher factory over the connection registry.
func NewFactory(registry *natsclient.Registry, cfg config.ResilienceConfig, log *logrus.Logger) *Factory {
	return &Factory{
		registry:   registry,
		cfg:        cfg,
		log:        log,
		serializer: natsclient.JSONSerializer{},
		clients:    make(map[string]*Client),
	}
}

// Client returns the publish client for the named connection, creating it on
// first use. An empty name resolves to the default connection.
func (f *Factory) Client(name string) (*Client, error) {
	conn, err := f.registry.Get(name)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[conn.Name]; ok {
		return c, nil
	}

	c := &Client{
		conn:       conn,
		cfg:        f.cfg,
		log:        f.log.WithField("connection", conn.Name),
		serializer: f.serializer,
		breaker:    f.newBreaker(conn.Name),
	}
	f.clients[conn.Name] = c
	return c, nil
}

func (f *Factory) newBreaker(name string) *gobreaker.CircuitBreaker {
	cfg := f.cfg
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publish-" + name,
		MaxRequests: 3,
		Interval:    cfg.SamplingDuration,
		Timeout:     cfg.BreakDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.MinimumThroughput &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.log.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Warn("publish circuit breaker state changed")
		},
	})
}

// Client publishes on one connection.
type Client struct {
	conn       *natsclient.Connection
	cfg        config.ResilienceConfig
	log        *logrus.Entry
	serializer natsclient.Serializer
	breaker    *gobreaker.CircuitBreaker
}

// Publish sends a fire-and-forget core NATS message. Core publishes are
// buffered writes with no broker ack, so they run outside the breaker.
func (c *Client) Publish(ctx context.Context, subject string, payload any) error {
	msg, err := c.newMsg(ctx, subject, payload)
	if err != nil {
		return err
	}
	if err := c.conn.NC.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Request performs a request-reply round trip, decoding the reply into
// result when result is non-nil. Error envelopes from the responder come
// back as typed application errors.
func (c *Client) Request(ctx context.Context, subject string, payload, result any) error {
	msg, err := c.newMsg(ctx, subject, payload)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	reply, err := c.conn.NC.RequestMsgWithContext(ctx, msg)
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return apperrors.Unexpected("Request.NoResponders", "no responders on subject "+subject)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Unexpected("Request.Timeout", "request to "+subject+" timed out")
	case err != nil:
		return fmt.Errorf("request to %s: %w", subject, err)
	}

	if reply.Header.Get(HeaderError) != "" {
		var env ErrorEnvelope
		if err := c.serializer.Unmarshal(reply.Data, &env); err != nil {
			return apperrors.Unexpected("Request.BadErrorEnvelope", "responder returned an unreadable error")
		}
		return apperrors.New(kindFromString(env.Kind), env.Code, env.Message)
	}

	if result == nil || len(reply.Data) == 0 {
		return nil
	}
	if err := c.serializer.Unmarshal(reply.Data, result); err != nil {
		return fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	return nil
}

// JsPublish publishes a payload to JetStream with retry and the circuit
// breaker guarding the broker.
func (c *Client) JsPublish(ctx context.Context, subject string, payload any) error {
	msg, err := c.newMsg(ctx, subject, payload)
	if err != nil {
		return err
	}
	return c.jsPublishMsg(ctx, msg)
}

// JsPublishRaw publishes pre-encoded bytes to JetStream, merging extra
// headers over the generated trace headers. The outbox processor uses it to
// replay stored messages without re-encoding.
func (c *Client) JsPublishRaw(ctx context.Context, subject string, data []byte, extra nats.Header) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	tracing.Outbound(ctx).Inject(msg.Header)
	for k, vs := range extra {
		for _, v := range vs {
			msg.Header.Set(k, v)
		}
	}
	return c.jsPublishMsg(ctx, msg)
}

func (c *Client) jsPublishMsg(ctx context.Context, msg *nats.Msg) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.publishWithRetry(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Unexpected("Publish.CircuitOpen", "publish circuit breaker is open")
	}
	return err
}

// publishWithRetry retries with exponential backoff: BaseDelay, 2x, 4x...
func (c *Client) publishWithRetry(ctx context.Context, msg *nats.Msg) error {
	var err error
	for attempt := 1; attempt <= c.cfg.MaxRetryAttempts; attempt++ {
		_, err = c.conn.JS.PublishMsg(ctx, msg)
		if err == nil {
			return nil
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"subject": msg.Subject,
			"attempt": attempt,
		}).Warn("JetStream publish failed")

		if attempt < c.cfg.MaxRetryAttempts {
			backoff := c.cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish to %s interrupted: %w", msg.Subject, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("publish to %s failed after %d attempts: %w",
		msg.Subject, c.cfg.MaxRetryAttempts, err)
}

// newMsg encodes the payload and stamps outbound trace headers. A nil
// payload publishes an empty body.
func (c *Client) newMsg(ctx context.Context, subject string, payload any) (*nats.Msg, error) {
	msg := nats.NewMsg(subject)
	if payload != nil {
		data, err := c.serializer.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload for %s: %w", subject, err)
		}
		msg.Data = data
	}
	tracing.Outbound(ctx).Inject(msg.Header)
	return msg, nil
}

func kindFromString(s string) apperrors.Kind {
	switch s {
	case "NotFound":
		return apperrors.KindNotFound
	case "Validation":
		return apperrors.KindValidation
	case "Conflict":
		return apperrors.KindConflict
	case "Unauthorized":
		return apperrors.KindUnauthorized
	case "Forbidden":
		return apperrors.KindForbidden
	default:
		return apperrors.KindUnexpected
	}
}
