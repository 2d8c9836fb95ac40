package kgerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestMarksSurviveWrapping(t *testing.T) {
	base := Transient(errors.New("connection refused"), "append fact")
	wrapped := fmt.Errorf("process candidate: %w", base)
	if !IsTransient(wrapped) {
		t.Errorf("expected wrapped error to stay transient")
	}
	if IsInvariantViolation(wrapped) {
		t.Errorf("transient error misclassified as invariant violation")
	}
	if Kind(wrapped) != "transient_io" {
		t.Errorf("unexpected kind %q", Kind(wrapped))
	}
}

func TestKinds(t *testing.T) {
	cases := map[string]error{
		"invariant_violation": Invariant("two open facts for %s", "party"),
		"invalid_candidate":   Invalid(errors.New("bad")),
		"not_found":           NotFound("entity", "e1"),
		"internal":            errors.New("other"),
	}
	for want, err := range cases {
		if got := Kind(err); got != want {
			t.Errorf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
	if Transient(nil, "x") != nil || Invalid(nil) != nil {
		t.Errorf("nil errors must stay nil")
	}
}
