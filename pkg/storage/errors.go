package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConcurrentModification is returned when a commit lost an optimistic
// version race or tried to create a record that already exists. Callers may
// reload and retry.
var ErrConcurrentModification = errors.New("concurrent modification")
