package invoker

import (
	"context"
	"io"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/endpoint"
	"github.com/tesseract-hub/go-messaging/tracing"
)

type echoRequest struct {
	Value string `json:"value"`
}

type echoResponse struct {
	Value string `json:"value"`
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func echoDescriptor(t *testing.T) *endpoint.Descriptor {
	t.Helper()
	c := endpoint.NewController("EchoController").
		Handle("Echo", "[controller].v{version}.{id}.echo",
			endpoint.RequestReply(func(ctx context.Context, inv *endpoint.Invocation, req *echoRequest) (*echoResponse, error) {
				return &echoResponse{Value: req.Value + ":" + inv.Params.String("id")}, nil
			}))
	return c.Endpoints()[0]
}

func TestInvokeDecodesAndBindsParams(t *testing.T) {
	b := New(quietLogger()).Bind(echoDescriptor(t))

	result, err := b.Invoke(context.Background(), "echo.v1.42.echo", nil, []byte(`{"value":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, &echoResponse{Value: "hi:42"}, result)
}

func TestInvokeRejectsBadPayload(t *testing.T) {
	b := New(quietLogger()).Bind(echoDescriptor(t))

	_, err := b.Invoke(context.Background(), "echo.v1.42.echo", nil, []byte(`{oops`))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestInvokeEmptyBodyYieldsZeroRequest(t *testing.T) {
	c := endpoint.NewController("EchoController").
		Handle("Echo", "[controller].echo",
			endpoint.RequestReply(func(ctx context.Context, inv *endpoint.Invocation, req *echoRequest) (*echoResponse, error) {
				// The adapter hands over a zero value, never nil.
				require.NotNil(t, req)
				return &echoResponse{Value: req.Value}, nil
			}))
	b := New(quietLogger()).Bind(c.Endpoints()[0])

	result, err := b.Invoke(context.Background(), "echo.echo", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, &echoResponse{Value: ""}, result)
}

func TestInvokeCarriesInboundTrace(t *testing.T) {
	var seen tracing.Context
	c := endpoint.NewController("EchoController").
		Handle("Trace", "[controller].trace",
			endpoint.Notify(func(ctx context.Context, inv *endpoint.Invocation) error {
				seen, _ = tracing.FromContext(ctx)
				return nil
			}),
			endpoint.WithDelivery(endpoint.DeliveryCore))
	b := New(quietLogger()).Bind(c.Endpoints()[0])

	inbound := tracing.Generate()
	headers := nats.Header{}
	inbound.Inject(headers)

	_, err := b.Invoke(context.Background(), "echo.trace", headers, nil)
	require.NoError(t, err)
	assert.Equal(t, inbound.TraceID, seen.TraceID)
	assert.Equal(t, inbound.RequestID, seen.RequestID)
}

func TestMiddlewareOrderAndWrapping(t *testing.T) {
	var order []string
	mw := func(tag string) Middleware {
		return func(next endpoint.HandlerFunc) endpoint.HandlerFunc {
			return func(ctx context.Context, inv *endpoint.Invocation) (any, error) {
				order = append(order, tag+"-in")
				result, err := next(ctx, inv)
				order = append(order, tag+"-out")
				return result, err
			}
		}
	}

	c := endpoint.NewController("EchoController").
		Handle("Ping", "[controller].ping",
			endpoint.Notify(func(ctx context.Context, inv *endpoint.Invocation) error {
				order = append(order, "handler")
				return nil
			}),
			endpoint.WithDelivery(endpoint.DeliveryCore))

	b := New(quietLogger(), WithMiddleware(mw("outer"), mw("inner"))).Bind(c.Endpoints()[0])
	_, err := b.Invoke(context.Background(), "echo.ping", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"outer-in", "inner-in", "handler", "inner-out", "outer-out"}, order)
}

func TestRecoveryMiddleware(t *testing.T) {
	c := endpoint.NewController("EchoController").
		Handle("Boom", "[controller].boom",
			endpoint.Notify(func(ctx context.Context, inv *endpoint.Invocation) error {
				panic("kaput")
			}),
			endpoint.WithDelivery(endpoint.DeliveryCore))

	b := New(quietLogger(), WithMiddleware(Recovery())).Bind(c.Endpoints()[0])
	_, err := b.Invoke(context.Background(), "echo.boom", nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnexpected))
	assert.Contains(t, err.Error(), "kaput")
}

func TestAuditLoggingPassesResultThrough(t *testing.T) {
	b := New(quietLogger(), WithMiddleware(AuditLogging())).Bind(echoDescriptor(t))

	result, err := b.Invoke(context.Background(), "echo.v1.7.echo", nil, []byte(`{"value":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, &echoResponse{Value: "x:7"}, result)
}

func TestAuditLoggingEmitsStartAndOutcome(t *testing.T) {
	log, hook := logrustest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	b := New(log, WithMiddleware(AuditLogging())).Bind(echoDescriptor(t))
	_, err := b.Invoke(context.Background(), "echo.v1.7.echo", nil, []byte(`{"value":"x"}`))
	require.NoError(t, err)

	var messages []string
	for _, entry := range hook.AllEntries() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{"endpoint started", "endpoint handled"}, messages)
	assert.Contains(t, hook.LastEntry().Data, "elapsedMs")
}
