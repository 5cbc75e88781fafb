package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidWindow is returned when a list window has a negative offset or
// limit.
var ErrInvalidWindow = errors.New("invalid list window")

// ErrDuplicate is returned when a write would violate a uniqueness rule.
var ErrDuplicate = errors.New("duplicate")
