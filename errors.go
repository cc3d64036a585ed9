package vos

import "github.com/pkg/errors"

// Code is one of the stable, exported error classes every public VOS
// operation returns. Callers branch on Code, never on an error's message.
type Code int

const (
	CodeOK Code = iota
	CodeNonexist
	CodeInval
	CodeNomem
	CodeNoHdl
	CodeOverflow
	CodeExist
	CodeIO
	CodeIOInval
	CodeNoPerm
	CodeNospace
	CodeInprogress
	CodeBusy
	CodeCanceled
	CodeTrunc
	CodeProto
	CodeAgain
	CodeUninit
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeNonexist:
		return "NONEXIST"
	case CodeInval:
		return "INVAL"
	case CodeNomem:
		return "NOMEM"
	case CodeNoHdl:
		return "NO_HDL"
	case CodeOverflow:
		return "OVERFLOW"
	case CodeExist:
		return "EXIST"
	case CodeIO:
		return "IO"
	case CodeIOInval:
		return "IO_INVAL"
	case CodeNoPerm:
		return "NO_PERM"
	case CodeNospace:
		return "NOSPACE"
	case CodeInprogress:
		return "INPROGRESS"
	case CodeBusy:
		return "BUSY"
	case CodeCanceled:
		return "CANCELED"
	case CodeTrunc:
		return "TRUNC"
	case CodeProto:
		return "PROTO"
	case CodeAgain:
		return "AGAIN"
	case CodeUninit:
		return "UNINIT"
	default:
		return "UNKNOWN"
	}
}

// codedError is a sentinel error carrying a stable Code. errors.Is compares
// by Code so wrapped variants (via Wrap below) still match the sentinel.
type codedError struct {
	code Code
}

func (e *codedError) Error() string { return e.code.String() }

func (e *codedError) Is(target error) bool {
	t, ok := target.(*codedError)
	return ok && t.code == e.code
}

var (
	ErrNonexist   error = &codedError{CodeNonexist}
	ErrInval      error = &codedError{CodeInval}
	ErrNomem      error = &codedError{CodeNomem}
	ErrNoHdl      error = &codedError{CodeNoHdl}
	ErrOverflow   error = &codedError{CodeOverflow}
	ErrExist      error = &codedError{CodeExist}
	ErrIO         error = &codedError{CodeIO}
	ErrIOInval    error = &codedError{CodeIOInval}
	ErrNoPerm     error = &codedError{CodeNoPerm}
	ErrNospace    error = &codedError{CodeNospace}
	ErrInprogress error = &codedError{CodeInprogress}
	ErrBusy       error = &codedError{CodeBusy}
	ErrCanceled   error = &codedError{CodeCanceled}
	ErrTrunc      error = &codedError{CodeTrunc}
	ErrProto      error = &codedError{CodeProto}
	ErrAgain      error = &codedError{CodeAgain}
	ErrUninit     error = &codedError{CodeUninit}
)

// Wrap attaches context to one of the sentinel errors above while keeping
// it recoverable via CodeOf/errors.Is, the same way package errors.Cause
// recovers an underlying cause.
func Wrap(sentinel error, msg string) error {
	return errors.Wrap(sentinel, msg)
}

// CodeOf reports the Code carried by err, walking wrapped causes the way
// errors.Cause does. Returns CodeUninit if err does not carry a known code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, c := range []error{
		ErrNonexist, ErrInval, ErrNomem, ErrNoHdl, ErrOverflow, ErrExist,
		ErrIO, ErrIOInval, ErrNoPerm, ErrNospace, ErrInprogress, ErrBusy,
		ErrCanceled, ErrTrunc, ErrProto, ErrAgain, ErrUninit,
	} {
		if errors.Is(err, c) {
			return c.(*codedError).code
		}
	}
	return CodeUninit
}
