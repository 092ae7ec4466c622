package errors

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRequiredFields = errors.New("missing required fields")
	ErrInsufficientShards    = errors.New("insufficient blocks available for reconstruction")
	ErrEmptyFile             = errors.New("cannot insert empty file")
	ErrNotFinished           = errors.New("not all segments finished")
	ErrBadBlock              = errors.New("block content does not match its key")
)

// Mode classifies a fetch failure.
type Mode int

const (
	InternalError Mode = iota
	InvalidMetadata
	TooBig
	TooManyBlocksPerSegment
	BucketError
	SplitfileError
	Cancelled
	NotFound
)

func (m Mode) String() string {
	switch m {
	case InternalError:
		return "internal error"
	case InvalidMetadata:
		return "invalid metadata"
	case TooBig:
		return "too big"
	case TooManyBlocksPerSegment:
		return "too many blocks per segment"
	case BucketError:
		return "bucket error"
	case SplitfileError:
		return "splitfile error"
	case Cancelled:
		return "cancelled"
	case NotFound:
		return "data not found"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// FetchError is the structured error delivered to a fetch callback.
type FetchError struct {
	Mode         Mode
	Msg          string
	Err          error
	ExpectedSize int64
	MIMEType     string
}

func (e *FetchError) Error() string {
	msg := e.Mode.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches any *FetchError with the same mode.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	if !ok {
		return false
	}
	return t.Mode == e.Mode
}

// New creates a FetchError with a formatted message.
func New(mode Mode, format string, args ...any) *FetchError {
	return &FetchError{Mode: mode, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a FetchError around a cause.
func Wrap(mode Mode, err error, msg string) *FetchError {
	return &FetchError{Mode: mode, Msg: msg, Err: err}
}

// TooBigError reports an expected size over the configured bound.
func TooBigError(expected int64, mime string) *FetchError {
	return &FetchError{
		Mode:         TooBig,
		Msg:          fmt.Sprintf("expected size %d exceeds limit", expected),
		ExpectedSize: expected,
		MIMEType:     mime,
	}
}

// Mode values usable as errors.Is targets.
var (
	ErrInvalidMetadata         = &FetchError{Mode: InvalidMetadata}
	ErrTooBig                  = &FetchError{Mode: TooBig}
	ErrTooManyBlocksPerSegment = &FetchError{Mode: TooManyBlocksPerSegment}
	ErrBucket                  = &FetchError{Mode: BucketError}
	ErrSplitfile               = &FetchError{Mode: SplitfileError}
	ErrCancelled               = &FetchError{Mode: Cancelled}
	ErrInternal                = &FetchError{Mode: InternalError}
	ErrNotFound                = &FetchError{Mode: NotFound}
)

// ModeOf returns the mode of the first FetchError in err's chain, or InternalError.
func ModeOf(err error) Mode {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Mode
	}
	return InternalError
}

// ConfigNotSetError reports a configuration key a command needs.
func ConfigNotSetError(config string) error {
	return fmt.Errorf("%s must be set in the configuration or environment", config)
}
