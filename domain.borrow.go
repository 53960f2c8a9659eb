package main

import (
	"context"
	"time"
)

// BorrowRecord links one book to one user for the time it is checked out.
// A nil ReturnedAt means the record is outstanding.
type BorrowRecord struct {
	ID         int64      `json:"id"`
	BookID     int64      `json:"bookId"`
	UserID     string     `json:"userId"`
	BorrowedAt time.Time  `json:"borrowedAt"`
	ReturnedAt *time.Time `json:"returnedAt"`
}

// IsOutstanding reports whether the book is still out on this record.
func (br BorrowRecord) IsOutstanding() bool {
	return br.ReturnedAt == nil
}

// BorrowHistory is the full ledger of a book with its current holder, if any.
type BorrowHistory struct {
	Borrows             []BorrowRecord `json:"borrows"`
	CurrentlyBorrowedBy *string        `json:"currentlyBorrowedBy"`
}

// LedgerStorage defines possible operations on borrow records.
//
// Open must atomically refuse a second outstanding record for the same book and
// Close must only close a record which is still outstanding.
type LedgerStorage interface {
	Open(ctx context.Context, record BorrowRecord) (BorrowRecord, error)
	GetOutstanding(ctx context.Context, bookID int64) (BorrowRecord, error)
	Close(ctx context.Context, recordID int64, returnedAt time.Time) (BorrowRecord, error)
	ListByBook(ctx context.Context, bookID int64) ([]BorrowRecord, error)
}
