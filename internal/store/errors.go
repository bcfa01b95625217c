package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a record with the same unique key already exists.
var ErrConflict = errors.New("already exists")

// ErrUnsupportedKind is returned when a loan is requested for a digital book.
var ErrUnsupportedKind = errors.New("digital books cannot be loaned")

// ErrOutOfStock is returned when a book has no copies available to loan.
var ErrOutOfStock = errors.New("no copies available")

// ErrDuplicateActiveLoan is returned when the user already holds an active
// loan for the same book.
var ErrDuplicateActiveLoan = errors.New("active loan already exists")
