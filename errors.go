package pngquant

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindDecode: the input is not a readable raster image.
	KindDecode
	// KindInvalidParameter: caller options are out of range.
	KindInvalidParameter
	// KindQuantization: no acceptable palette could be produced.
	KindQuantization
	// KindEncode: the output PNG could not be assembled.
	KindEncode
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "DecodeError"
	case KindInvalidParameter:
		return "InvalidParameterError"
	case KindQuantization:
		return "QuantizationError"
	case KindEncode:
		return "EncodeError"
	default:
		return "UnknownError"
	}
}

// Error is the only error type returned by this package.
type Error struct {
	Kind Kind
	// Stage names the pipeline step that failed.
	Stage string
	Err   error
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrDecode           = &Error{Kind: KindDecode}
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter}
	ErrQuantization     = &Error{Kind: KindQuantization}
	ErrEncode           = &Error{Kind: KindEncode}
)

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Kind.String()
	case e.Stage == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}
