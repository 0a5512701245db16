package store

import "errors"

// ErrNotFound is returned when no graph exists for a conversation id.
var ErrNotFound = errors.New("not found")
