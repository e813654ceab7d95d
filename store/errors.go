package store

import "errors"

// ErrNotFound is returned when a single-row lookup finds no row. Callers
// check it with errors.Is instead of matching error strings.
var ErrNotFound = errors.New("store: not found")
