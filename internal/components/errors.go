package components

import "errors"

var (
	// ErrInvalidEntity is returned when an entity is not alive in the world.
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrMissingComponents is returned when an entity lacks required components.
	ErrMissingComponents = errors.New("missing components")
)
