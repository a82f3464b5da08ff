package failure

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an orchestration error so callers can tell bad input apart
// from internal inconsistency without inspecting message text.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindInvalidCart
	KindInvalidCartItem
	KindDuplicateRequest
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidCart:
		return "invalid_cart"
	case KindInvalidCartItem:
		return "invalid_cart_item"
	case KindDuplicateRequest:
		return "duplicate_request"
	case KindCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns an error of the given kind caused by err. It returns nil if err
// is nil.
func Wrap(err error, kind Kind, op, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     errors.WithStack(err),
	}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the message of the outermost *Error in err's chain,
// without operation or cause, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
