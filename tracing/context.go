// Package tracing propagates a per-request trace across message hops using
// three headers: X-Trace-Id, X-Request-Id and X-Timestamp. The trace id
// survives every hop so all work for one user request can be correlated;
// the request id is regenerated per outbound message.
//
// The trace rides context.Context explicitly. There is no ambient slot:
// hosts derive the context from inbound headers before invoking a handler,
// and the publisher reads it back when injecting outbound headers.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

// Wire headers carried on every published message.
const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderRequestID = "X-Request-Id"
	HeaderTimestamp = "X-Timestamp"
)

const (
	traceIDBytes    = 16
	requestIDLength = 12
	base62Alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Context identifies one unit of work flowing through the system.
type Context struct {
	// TraceID is 32 lowercase hex chars (16 random bytes, never all zero).
	TraceID string
	// RequestID is 12 random base62 chars, unique per message.
	RequestID string
	// TimestampMs is the unix-millisecond send time.
	TimestampMs int64
}

// Generate produces a fresh trace context.
func Generate() Context {
	return Context{
		TraceID:     newTraceID(),
		RequestID:   newRequestID(),
		TimestampMs: time.Now().UnixMilli(),
	}
}

// Child returns a copy sharing the trace id but with a fresh request id and
// timestamp. Used for every outbound publish inside an existing trace.
func (c Context) Child() Context {
	return Context{
		TraceID:     c.TraceID,
		RequestID:   newRequestID(),
		TimestampMs: time.Now().UnixMilli(),
	}
}

// Inject overwrites the three trace headers on h.
func (c Context) Inject(h nats.Header) {
	h.Set(HeaderTraceID, c.TraceID)
	h.Set(HeaderRequestID, c.RequestID)
	h.Set(HeaderTimestamp, strconv.FormatInt(c.TimestampMs, 10))
}

// FromHeaders reads the trace headers from h. Any missing field is
// materialized so the returned context is always complete.
func FromHeaders(h nats.Header) Context {
	c := Context{}
	if h != nil {
		c.TraceID = h.Get(HeaderTraceID)
		c.RequestID = h.Get(HeaderRequestID)
		if ts := h.Get(HeaderTimestamp); ts != "" {
			if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
				c.TimestampMs = ms
			}
		}
	}
	if c.TraceID == "" {
		c.TraceID = newTraceID()
	}
	if c.RequestID == "" {
		c.RequestID = newRequestID()
	}
	if c.TimestampMs == 0 {
		c.TimestampMs = time.Now().UnixMilli()
	}
	return c
}

type ctxKey struct{}

// NewContext binds tc to ctx.
func NewContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the trace bound to ctx and whether one was bound.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// Outbound returns the trace to stamp on an outbound message: a child of the
// trace bound to ctx, or a brand new trace when none is bound.
func Outbound(ctx context.Context) Context {
	if tc, ok := FromContext(ctx); ok {
		return tc.Child()
	}
	return Generate()
}

func newTraceID() string {
	buf := make([]byte, traceIDBytes)
	for {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms; keep spinning
			// rather than emitting a zero id.
			continue
		}
		if !allZero(buf) {
			return hex.EncodeToString(buf)
		}
		// All-zero trace ids are invalid per W3C trace-context; regenerate.
	}
}

func newRequestID() string {
	buf := make([]byte, requestIDLength)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	for i, b := range buf {
		buf[i] = base62Alphabet[int(b)%len(base62Alphabet)]
	}
	return string(buf)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
