package overlay

import "errors"

var (
	// ErrNotFound is returned for an unknown overlay id.
	ErrNotFound = errors.New("overlay not found")
	// ErrDuplicateID is returned when registering an id twice.
	ErrDuplicateID = errors.New("overlay id already registered")
	// ErrInvalidDefinition is returned for malformed definitions.
	ErrInvalidDefinition = errors.New("invalid overlay definition")
	// ErrUnknownKind is returned for an unrecognized kind name.
	ErrUnknownKind = errors.New("unknown overlay kind")
)
