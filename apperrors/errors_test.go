package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestTransientMarking(t *testing.T) {
	base := errors.New("broker unavailable")

	if IsTransient(base) {
		t.Error("plain error should not be transient")
	}
	if !IsTransient(Transient(base)) {
		t.Error("marked error should be transient")
	}
	// Marker survives wrapping.
	wrapped := fmt.Errorf("publish: %w", Transient(base))
	if !IsTransient(wrapped) {
		t.Error("transient marker should survive %w wrapping")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}

func TestFrom(t *testing.T) {
	if From(nil) != nil {
		t.Fatal("From(nil) should be nil")
	}

	e := NotFound("Employee.NotFound", "no such employee")
	got := From(fmt.Errorf("lookup: %w", e))
	if got != e {
		t.Errorf("From should unwrap to the original *Error, got %v", got)
	}

	plain := From(errors.New("boom"))
	if plain.Kind != KindUnexpected || plain.Code != "Unexpected" {
		t.Errorf("plain errors should coerce to Unexpected, got %+v", plain)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:     http.StatusNotFound,
		KindValidation:   http.StatusBadRequest,
		KindConflict:     http.StatusConflict,
		KindUnauthorized: http.StatusUnauthorized,
		KindForbidden:    http.StatusForbidden,
		KindUnexpected:   http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s: got %d, want %d", kind, got, want)
		}
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("save: %w", Conflict("Employee.Duplicate", "already exists"))
	if !IsKind(err, KindConflict) {
		t.Error("expected KindConflict")
	}
	if IsKind(err, KindNotFound) {
		t.Error("did not expect KindNotFound")
	}
	if IsKind(errors.New("boom"), KindUnexpected) {
		t.Error("plain error carries no kind")
	}
}
