package tracing

import (
	"context"
	"regexp"
	"testing"

	"github.com/nats-io/nats.go"
)

var (
	traceIDRe   = regexp.MustCompile(`^[0-9a-f]{32}$`)
	requestIDRe = regexp.MustCompile(`^[0-9A-Za-z]{12}$`)
)

func TestGenerateShape(t *testing.T) {
	tc := Generate()

	if !traceIDRe.MatchString(tc.TraceID) {
		t.Errorf("trace id %q is not 32 lowercase hex chars", tc.TraceID)
	}
	if tc.TraceID == "00000000000000000000000000000000" {
		t.Error("trace id must not be all zero")
	}
	if !requestIDRe.MatchString(tc.RequestID) {
		t.Errorf("request id %q is not 12 base62 chars", tc.RequestID)
	}
	if tc.TimestampMs == 0 {
		t.Error("timestamp must be set")
	}
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tc := Context{
		TraceID:     "4bf92f3577b34da6a3ce929d0e0e4736",
		RequestID:   "a1B2c3D4e5F6",
		TimestampMs: 1735689600123,
	}

	h := nats.Header{}
	tc.Inject(h)

	got := FromHeaders(h)
	if got != tc {
		t.Errorf("round trip mismatch: got %+v want %+v", got, tc)
	}
}

func TestFromHeadersMaterializesMissingFields(t *testing.T) {
	h := nats.Header{}
	h.Set(HeaderTraceID, "4bf92f3577b34da6a3ce929d0e0e4736")

	got := FromHeaders(h)
	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("present trace id must be preserved, got %q", got.TraceID)
	}
	if !requestIDRe.MatchString(got.RequestID) {
		t.Errorf("missing request id must be generated, got %q", got.RequestID)
	}
	if got.TimestampMs == 0 {
		t.Error("missing timestamp must be generated")
	}

	// Nil headers produce a fully materialized context.
	got = FromHeaders(nil)
	if !traceIDRe.MatchString(got.TraceID) || !requestIDRe.MatchString(got.RequestID) {
		t.Errorf("nil headers should yield a complete context, got %+v", got)
	}
}

func TestChildKeepsTraceID(t *testing.T) {
	tc := Generate()
	child := tc.Child()

	if child.TraceID != tc.TraceID {
		t.Error("child must inherit the trace id")
	}
	if child.RequestID == tc.RequestID {
		t.Error("child must get a fresh request id")
	}
}

func TestOutbound(t *testing.T) {
	tc := Generate()
	ctx := NewContext(context.Background(), tc)

	out := Outbound(ctx)
	if out.TraceID != tc.TraceID {
		t.Error("outbound trace inside a bound context must inherit the trace id")
	}
	if out.RequestID == tc.RequestID {
		t.Error("outbound trace must carry a fresh request id")
	}

	// Without a bound trace a new one is generated.
	out = Outbound(context.Background())
	if !traceIDRe.MatchString(out.TraceID) {
		t.Errorf("unbound outbound trace must be generated, got %+v", out)
	}
}
