package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write collides with a unique key.
var ErrDuplicate = errors.New("duplicate")
