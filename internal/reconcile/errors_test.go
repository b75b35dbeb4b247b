package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/animus-labs/flowsync/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "storage", err: Storage("list specs", errors.New("connection refused")), want: KindStorage},
		{name: "parse", err: Parse("decode", errors.New("yaml: line 2")), want: KindParse},
		{name: "validation", err: Validationf("name is required"), want: KindValidation},
		{name: "wrapped tag", err: fmt.Errorf("item a.yaml: %w", Parse("decode", errors.New("bad"))), want: KindParse},
		{name: "outermost tag wins", err: Validation("check", Storage("fetch", errors.New("x"))), want: KindValidation},
		{name: "transition", err: fmt.Errorf("apply: %w", &domain.TransitionError{RunID: "r", From: domain.RunStatusSuccess, Transition: domain.TransitionStart}), want: KindStateTransition},
		{name: "deadline", err: fmt.Errorf("fetch run: %w", context.DeadlineExceeded), want: KindStorage},
		{name: "cancelled", err: context.Canceled, want: KindUnknown},
		{name: "plain", err: errors.New("boom"), want: KindUnknown},
		{name: "bogus tag", err: &Error{Kind: "WEIRD", Err: errors.New("x")}, want: KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestTaggedConstructorsPassNilThrough(t *testing.T) {
	if Storage("x", nil) != nil || Parse("x", nil) != nil || Validation("x", nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	base := errors.New("timeout")
	err := Storage("list runs", base)
	if err.Error() != "list runs: timeout" {
		t.Fatalf("Error()=%q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to see the wrapped error")
	}
}

func TestEnsureKeepsExistingKind(t *testing.T) {
	parsed := Parse("decode", errors.New("bad"))
	if got := Ensure(KindStorage, "fetch", parsed); got != parsed {
		t.Fatalf("Ensure rewrapped an already tagged error: %v", got)
	}
	got := Ensure(KindStorage, "fetch", errors.New("reset by peer"))
	if Classify(got) != KindStorage || got.Error() != "fetch: reset by peer" {
		t.Fatalf("Ensure()=%v (%s)", got, Classify(got))
	}
	if Ensure(KindStorage, "x", nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
}
