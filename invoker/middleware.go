package invoker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/endpoint"
)

// Middleware wraps a handler. Middleware registered first runs outermost.
type Middleware func(endpoint.HandlerFunc) endpoint.HandlerFunc

// AuditLogging logs the start and the outcome of every invocation with the
// elapsed time and the trace identifiers already scoped into the invocation
// logger.
func AuditLogging() Middleware {
	return func(next endpoint.HandlerFunc) endpoint.HandlerFunc {
		return func(ctx context.Context, inv *endpoint.Invocation) (any, error) {
			inv.Logger.Debug("endpoint started")
			start := time.Now()
			result, err := next(ctx, inv)
			elapsed := time.Since(start).Milliseconds()

			entry := inv.Logger.WithField("elapsedMs", elapsed)
			if err != nil {
				entry.WithError(err).Warn("endpoint failed")
			} else {
				entry.Info("endpoint handled")
			}
			return result, err
		}
	}
}

// Recovery converts handler panics into errors so one bad message cannot
// take down a subscription host.
func Recovery() Middleware {
	return func(next endpoint.HandlerFunc) endpoint.HandlerFunc {
		return func(ctx context.Context, inv *endpoint.Invocation) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					inv.Logger.WithField("panic", r).Error("endpoint panicked")
					err = apperrors.New(apperrors.KindUnexpected, "Endpoint.Panic",
						fmt.Sprintf("handler panicked: %v", r))
				}
			}()
			return next(ctx, inv)
		}
	}
}

// Tracing opens an OpenTelemetry span per invocation, named after the
// endpoint, and records failures on it.
func Tracing() Middleware {
	tracer := otel.Tracer("go-messaging")
	return func(next endpoint.HandlerFunc) endpoint.HandlerFunc {
		return func(ctx context.Context, inv *endpoint.Invocation) (any, error) {
			ctx, span := tracer.Start(ctx, "handle "+inv.Subject)
			defer span.End()

			span.SetAttributes(
				attribute.String("messaging.subject", inv.Subject),
				attribute.String("messaging.trace_id", inv.Trace.TraceID),
				attribute.String("messaging.request_id", inv.Trace.RequestID),
			)

			result, err := next(ctx, inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
	}
}
