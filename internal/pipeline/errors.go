package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a pipeline run failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingInput
	KindMediaDecode
	KindInference
	KindUnknownClassIndex
)

func (k Kind) String() string {
	switch k {
	case KindMissingInput:
		return "missing_input"
	case KindMediaDecode:
		return "media_decode"
	case KindInference:
		return "inference"
	case KindUnknownClassIndex:
		return "unknown_class_index"
	default:
		return "unknown"
	}
}

// Error is returned by every pipeline stage.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
