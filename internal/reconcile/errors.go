package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/animus-labs/flowsync/internal/domain"
)

// Kind classifies a reconciliation failure.
type Kind string

const (
	KindStorage         Kind = "STORAGE_ERROR"
	KindParse           Kind = "PARSE_ERROR"
	KindValidation      Kind = "VALIDATION_ERROR"
	KindStateTransition Kind = "STATE_TRANSITION_ERROR"
	KindUnknown         Kind = "UNKNOWN"
)

// Error tags an underlying failure with its Kind. Fallible external and parse
// operations return it so classification never has to guess.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Storage tags a failed list or fetch against an external system.
func Storage(op string, err error) error { return wrap(KindStorage, op, err) }

// Parse tags content that could not be read at all.
func Parse(op string, err error) error { return wrap(KindParse, op, err) }

// Validation tags well-formed content that violates a rule.
func Validation(op string, err error) error { return wrap(KindValidation, op, err) }

// Validationf builds a validation error from a message.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Classify maps any failure to exactly one Kind. The outermost tagged error
// wins; state machine rejections and expired deadlines are recognised
// untagged; everything else is UNKNOWN. A nil error has no kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		switch tagged.Kind {
		case KindStorage, KindParse, KindValidation, KindStateTransition:
			return tagged.Kind
		default:
			return KindUnknown
		}
	}
	var transition *domain.TransitionError
	if errors.As(err, &transition) {
		return KindStateTransition
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStorage
	}
	return KindUnknown
}

// Ensure returns err unchanged when it already classifies to a known kind
// other than UNKNOWN, and tags it with kind otherwise.
func Ensure(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if k := Classify(err); k != KindUnknown {
		return err
	}
	return wrap(kind, op, err)
}
