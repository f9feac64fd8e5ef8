package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidWorkspace indicates an invalid workspace identifier.
	ErrInvalidWorkspace = errors.New("invalid workspace")
	// ErrEmptyMessage indicates the message text was empty.
	ErrEmptyMessage = errors.New("empty message")
	// ErrStreamActive indicates a stream is already running for the workspace.
	ErrStreamActive = errors.New("stream is active, interrupt first")
	// ErrNothingToResume indicates no partial message exists to resume from.
	ErrNothingToResume = errors.New("nothing to resume")
	// ErrMessageNotFound indicates a requested message id could not be found.
	ErrMessageNotFound = errors.New("message not found")
	// ErrSeqNotFound indicates no stored message carries the given sequence.
	ErrSeqNotFound = errors.New("sequence not found")
	// ErrSeqRegression indicates an assigned sequence would repeat or regress.
	ErrSeqRegression = errors.New("sequence would regress")
	// ErrInvalidFraction indicates a truncation fraction outside [0, 1].
	ErrInvalidFraction = errors.New("fraction must be within [0, 1]")
	// ErrInvokerUnavailable indicates no model invoker is configured.
	ErrInvokerUnavailable = errors.New("invoker not configured")
	// ErrInvalidModel indicates a model identifier outside the allowed set.
	ErrInvalidModel = errors.New("invalid model")
)

// ErrorKind classifies engine errors for transports and event payloads.
type ErrorKind string

const (
	// KindStorage marks durable read/write failures.
	KindStorage ErrorKind = "storage"
	// KindValidation marks synchronously rejected invalid requests.
	KindValidation ErrorKind = "validation"
	// KindConflict marks requests rejected because of session state.
	KindConflict ErrorKind = "conflict"
	// KindModel marks model invocation failures.
	KindModel ErrorKind = "model"
	// KindCorruption marks malformed stored records (logged, never fatal).
	KindCorruption ErrorKind = "corruption"
	// KindUnknown marks errors outside the taxonomy.
	KindUnknown ErrorKind = "unknown"
)

// StorageError wraps a durable read/write failure with its operation context.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "storage error"
	}
	if e.Path != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InvokerError wraps a model invocation failure surfaced mid-stream.
type InvokerError struct {
	Message string
	Err     error
}

func (e *InvokerError) Error() string {
	if e == nil {
		return "invoker error"
	}
	if e.Message != "" {
		return fmt.Sprintf("invoker: %s", e.Message)
	}
	return fmt.Sprintf("invoker: %v", e.Err)
}

func (e *InvokerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf maps an error to its taxonomy kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return KindStorage
	}
	var invokerErr *InvokerError
	if errors.As(err, &invokerErr) {
		return KindModel
	}
	switch {
	case errors.Is(err, ErrStreamActive):
		return KindConflict
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidWorkspace),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrNothingToResume),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrSeqNotFound),
		errors.Is(err, ErrSeqRegression),
		errors.Is(err, ErrInvalidFraction),
		errors.Is(err, ErrInvokerUnavailable),
		errors.Is(err, ErrInvalidModel):
		return KindValidation
	}
	return KindUnknown
}
