package anchor

import "errors"

var (
	// ErrInvalidGroupID is returned for malformed or empty group identifiers.
	ErrInvalidGroupID = errors.New("invalid group identifier")

	// ErrInvalidPose is returned for non-finite or degenerate poses.
	ErrInvalidPose = errors.New("invalid pose")

	// ErrInvalidInput is returned by stores for structurally invalid requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a referenced anchor does not exist in the store.
	ErrNotFound = errors.New("anchor not found")

	// ErrUnknownAnchor is returned when a handle is not owned by the runtime.
	ErrUnknownAnchor = errors.New("unknown anchor handle")

	// ErrNotCreated is returned when an operation needs a placed anchor.
	ErrNotCreated = errors.New("anchor not created")

	// ErrNotLocalized is returned when an operation needs a localized anchor.
	ErrNotLocalized = errors.New("anchor not localized")
)
