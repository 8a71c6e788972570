package store

import "errors"

// ErrNotFound is returned when a lookup matches no row. Callers map it to a
// 404 or, on the admission path, to a generic invalid-token response.
var ErrNotFound = errors.New("not found")
