package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFromUnwrapsWrappedError(t *testing.T) {
	inner := New(http.StatusNotFound, "clip_not_found", errors.New("clip not found"))
	got := From(fmt.Errorf("lookup: %w", inner))
	if got != inner {
		t.Fatalf("From: expected wrapped *Error, got=%+v", got)
	}
	if From(nil) != nil {
		t.Fatalf("From(nil) must be nil")
	}
}

func TestFromFallsBackToInternal(t *testing.T) {
	got := From(errors.New("boom"))
	if got.Status != http.StatusInternalServerError || got.Code != "internal" {
		t.Fatalf("fallback: got=%+v", got)
	}
	if got.Error() != "boom" {
		t.Fatalf("message: got=%q", got.Error())
	}
}

func TestWithDetailsCopies(t *testing.T) {
	base := New(http.StatusBadRequest, "invalid_order", nil)
	withDetails := base.WithDetails(map[string]any{"start_time": "00:00:40"})
	if base.Details != nil {
		t.Fatalf("WithDetails mutated the receiver")
	}
	if withDetails.Details["start_time"] != "00:00:40" || withDetails.Code != "invalid_order" {
		t.Fatalf("copy: got=%+v", withDetails)
	}
	if withDetails.Error() != "invalid_order" {
		t.Fatalf("code used as message: got=%q", withDetails.Error())
	}
}
