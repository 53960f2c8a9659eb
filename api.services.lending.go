package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type LendingServiceProvider interface {
	Borrow(ctx context.Context, bookID int64, userID string) (BorrowRecord, error)
	Return(ctx context.Context, bookID int64, userID string) (BorrowRecord, error)
	CurrentBorrower(ctx context.Context, bookID int64) (string, bool, error)
	History(ctx context.Context, bookID int64) (BorrowHistory, error)
}

// LendingService drives the Available <-> Borrowed transitions of books.
// The state of a book is derived from its outstanding borrow record.
type LendingService struct {
	logger *zap.Logger
	clock  Clocker
	locks  *KeyedMutex
	books  BookStorage
	ledger LedgerStorage
	queue  Queuer
}

func NewLendingService(logger *zap.Logger, clock Clocker, locks *KeyedMutex, books BookStorage, ledger LedgerStorage, queue Queuer) *LendingService {
	return &LendingService{
		logger: logger,
		clock:  clock,
		locks:  locks,
		books:  books,
		ledger: ledger,
		queue:  queue,
	}
}

// Borrow checks out an available book to userID.
func (ls *LendingService) Borrow(ctx context.Context, bookID int64, userID string) (BorrowRecord, error) {
	if userID == "" {
		return BorrowRecord{}, ErrMissingUser
	}

	unlock := ls.locks.Lock(BookLockKey(bookID))
	defer unlock()

	if _, err := ls.books.GetOne(ctx, bookID); err != nil {
		return BorrowRecord{}, err
	}

	_, err := ls.ledger.GetOutstanding(ctx, bookID)
	switch {
	case err == nil:
		return BorrowRecord{}, ErrBookBorrowed
	case !errors.Is(err, ErrNoOutstanding):
		return BorrowRecord{}, fmt.Errorf("service: get outstanding record: %w", err)
	}

	now := ls.clock.Now().UTC()
	record, err := ls.ledger.Open(ctx, BorrowRecord{BookID: bookID, UserID: userID, BorrowedAt: now})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return BorrowRecord{}, err
		}
		return BorrowRecord{}, fmt.Errorf("service: open borrow record: %w", err)
	}

	ls.logger.Info("book borrowed", zap.Int64("book.id", bookID), zap.String("user.id", userID), zap.Int64("borrow.id", record.ID))
	PushEvent(ctx, ls.logger, ls.queue, LendingQueue, Event{Type: EventBookBorrowed, BookID: bookID, UserID: userID, At: now, Borrow: &record})
	return record, nil
}

// Return closes the outstanding record of a book when it belongs to userID.
// A record held by someone else is left untouched.
func (ls *LendingService) Return(ctx context.Context, bookID int64, userID string) (BorrowRecord, error) {
	if userID == "" {
		return BorrowRecord{}, ErrMissingUser
	}

	unlock := ls.locks.Lock(BookLockKey(bookID))
	defer unlock()

	if _, err := ls.books.GetOne(ctx, bookID); err != nil {
		return BorrowRecord{}, err
	}

	outstanding, err := ls.ledger.GetOutstanding(ctx, bookID)
	if errors.Is(err, ErrNoOutstanding) {
		return BorrowRecord{}, ErrBookNotBorrowed
	}
	if err != nil {
		return BorrowRecord{}, fmt.Errorf("service: get outstanding record: %w", err)
	}
	if outstanding.UserID != userID {
		return BorrowRecord{}, ErrNotBorrower
	}

	now := ls.clock.Now().UTC()
	record, err := ls.ledger.Close(ctx, outstanding.ID, now)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return BorrowRecord{}, err
		}
		return BorrowRecord{}, fmt.Errorf("service: close borrow record: %w", err)
	}

	ls.logger.Info("book returned", zap.Int64("book.id", bookID), zap.String("user.id", userID), zap.Int64("borrow.id", record.ID))
	PushEvent(ctx, ls.logger, ls.queue, LendingQueue, Event{Type: EventBookReturned, BookID: bookID, UserID: userID, At: now, Borrow: &record})
	return record, nil
}

// CurrentBorrower returns the holder of a book. The boolean is false when the book is available.
func (ls *LendingService) CurrentBorrower(ctx context.Context, bookID int64) (string, bool, error) {
	if _, err := ls.books.GetOne(ctx, bookID); err != nil {
		return "", false, err
	}
	record, err := ls.ledger.GetOutstanding(ctx, bookID)
	if errors.Is(err, ErrNoOutstanding) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("service: get outstanding record: %w", err)
	}
	return record.UserID, true, nil
}

// History lists all borrow records of a book by borrow time with its current holder.
func (ls *LendingService) History(ctx context.Context, bookID int64) (BorrowHistory, error) {
	if _, err := ls.books.GetOne(ctx, bookID); err != nil {
		return BorrowHistory{}, err
	}
	records, err := ls.ledger.ListByBook(ctx, bookID)
	if err != nil {
		return BorrowHistory{}, fmt.Errorf("service: list borrow records: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].BorrowedAt.Equal(records[j].BorrowedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].BorrowedAt.Before(records[j].BorrowedAt)
	})

	history := BorrowHistory{Borrows: records}
	if history.Borrows == nil {
		history.Borrows = []BorrowRecord{}
	}
	for _, r := range records {
		if r.IsOutstanding() {
			holder := r.UserID
			history.CurrentlyBorrowedBy = &holder
			break
		}
	}
	return history, nil
}
