package colocation

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by a Coordinator operation is an
// *OpError whose Kind is one of these.
var (
	ErrTransport             = errors.New("transport failure")
	ErrAnchorCreate          = errors.New("anchor creation failed")
	ErrAnchorCreationTimeout = errors.New("anchor creation timed out")
	ErrAnchorSave            = errors.New("anchor save failed")
	ErrNoValidAnchors        = errors.New("no localized anchors to share")
	ErrNoAnchorsFound        = errors.New("no anchors found for group")
	ErrLocalizationFailed    = errors.New("no anchor localized")
	ErrInvalidGroupID        = errors.New("invalid group identifier")
	ErrShare                 = errors.New("anchor share failed")
	ErrClear                 = errors.New("anchor clear failed")
	ErrInvalidInput          = errors.New("invalid input")
	ErrBusy                  = errors.New("coordinator busy")
	ErrCanceled              = errors.New("operation canceled")
)

// OpError is a typed failure with a stable Kind and an optional cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("colocation: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("colocation: %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both Kind and the cause to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the failure kind of err, or nil if err is not an *OpError.
func KindOf(err error) error {
	var op *OpError
	if errors.As(err, &op) {
		return op.Kind
	}
	return nil
}
