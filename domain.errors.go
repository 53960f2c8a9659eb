package main

import (
	"errors"
	"fmt"
)

// Kinds of failures returned by the services. Concrete errors wrap one of them
// so callers can classify with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
)

var (
	ErrBookNotFound      = fmt.Errorf("book %w", ErrNotFound)
	ErrBookExists        = fmt.Errorf("%w: isbn or title in use by another book", ErrConflict)
	ErrBookBorrowed      = fmt.Errorf("%w: book is currently borrowed", ErrConflict)
	ErrBookNotBorrowed   = fmt.Errorf("%w: book is not currently borrowed", ErrConflict)
	ErrNotBorrower       = fmt.Errorf("%w: book is not borrowed by this user", ErrConflict)
	ErrEmptyUpdate       = fmt.Errorf("%w: at least one field is required", ErrInvalidArgument)
	ErrInvalidPagination = fmt.Errorf("%w: page and limit must be positive", ErrInvalidArgument)
	ErrInvalidCategory   = fmt.Errorf("%w: unknown category", ErrInvalidArgument)
	ErrMissingUser       = fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	ErrBorrowNotFound    = fmt.Errorf("borrow record %w", ErrNotFound)
)

// ErrNoOutstanding is returned by a ledger when a book has no open record.
// The lending service turns it into the Available state.
var ErrNoOutstanding = errors.New("no outstanding borrow record")

// invalidFieldError reports a book field which failed a domain check.
type invalidFieldError struct {
	field  string
	reason string
}

func (e invalidFieldError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidArgument, e.field, e.reason)
}

func (e invalidFieldError) Unwrap() error {
	return ErrInvalidArgument
}
