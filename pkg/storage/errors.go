package storage

import "errors"

// ErrNotFound is returned (wrapped) when a lookup by id finds no row.
var ErrNotFound = errors.New("storage: not found")
