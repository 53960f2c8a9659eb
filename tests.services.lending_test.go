package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestLendingService_Lifecycle walks a book through borrow and return
// by two users and checks every refused transition on the way.
func TestLendingService_Lifecycle(t *testing.T) {
	clock := NewMockClocker()
	cs, ls, store := testServices(clock)
	ctx := context.Background()
	dune, err := cs.Create(ctx, duneBook())
	require.NoError(t, err)

	record, err := ls.Borrow(ctx, dune.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, dune.ID, record.BookID)
	assert.Equal(t, "alice", record.UserID)
	assert.Equal(t, clock.Now(), record.BorrowedAt)
	assert.True(t, record.IsOutstanding())

	_, err = ls.Borrow(ctx, dune.ID, "bob")
	assert.ErrorIs(t, err, ErrBookBorrowed)

	_, err = ls.Borrow(ctx, dune.ID, "alice")
	assert.ErrorIs(t, err, ErrBookBorrowed)

	holder, borrowed, err := ls.CurrentBorrower(ctx, dune.ID)
	require.NoError(t, err)
	assert.True(t, borrowed)
	assert.Equal(t, "alice", holder)

	_, err = ls.Return(ctx, dune.ID, "bob")
	assert.ErrorIs(t, err, ErrNotBorrower)

	clock.MockNow = clock.MockNow.Add(24 * time.Hour)
	returned, err := ls.Return(ctx, dune.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnedAt)
	assert.Equal(t, clock.Now(), *returned.ReturnedAt)
	assert.Equal(t, record.ID, returned.ID)

	_, err = ls.Return(ctx, dune.ID, "alice")
	assert.ErrorIs(t, err, ErrBookNotBorrowed)

	_, borrowed, err = ls.CurrentBorrower(ctx, dune.ID)
	require.NoError(t, err)
	assert.False(t, borrowed)

	clock.MockNow = clock.MockNow.Add(time.Hour)
	_, err = ls.Borrow(ctx, dune.ID, "bob")
	require.NoError(t, err)

	history, err := ls.History(ctx, dune.ID)
	require.NoError(t, err)
	require.Len(t, history.Borrows, 2)
	assert.Equal(t, "alice", history.Borrows[0].UserID)
	assert.Equal(t, "bob", history.Borrows[1].UserID)
	require.NotNil(t, history.CurrentlyBorrowedBy)
	assert.Equal(t, "bob", *history.CurrentlyBorrowedBy)

	var types []EventType
	for _, ev := range store.events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventBookCreated, EventBookBorrowed, EventBookReturned, EventBookBorrowed}, types)
}

func TestLendingService_MissingBookOrUser(t *testing.T) {
	_, ls, _ := testServices(NewMockClocker())
	ctx := context.Background()

	_, err := ls.Borrow(ctx, 7, "alice")
	assert.ErrorIs(t, err, ErrBookNotFound)
	_, err = ls.Return(ctx, 7, "alice")
	assert.ErrorIs(t, err, ErrBookNotFound)
	_, _, err = ls.CurrentBorrower(ctx, 7)
	assert.ErrorIs(t, err, ErrBookNotFound)
	_, err = ls.History(ctx, 7)
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = ls.Borrow(ctx, 7, "")
	assert.ErrorIs(t, err, ErrMissingUser)
	_, err = ls.Return(ctx, 7, "")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestLendingService_EmptyHistory(t *testing.T) {
	cs, ls, _ := testServices(NewMockClocker())
	ctx := context.Background()
	dune, err := cs.Create(ctx, duneBook())
	require.NoError(t, err)

	history, err := ls.History(ctx, dune.ID)
	require.NoError(t, err)
	assert.NotNil(t, history.Borrows)
	assert.Empty(t, history.Borrows)
	assert.Nil(t, history.CurrentlyBorrowedBy)
}

// TestLendingService_ConcurrentBorrow ensures only one of many simultaneous
// borrowers of the same available book wins.
func TestLendingService_ConcurrentBorrow(t *testing.T) {
	cs, ls, store := testServices(NewMockClocker())
	ctx := context.Background()
	dune, err := cs.Create(ctx, duneBook())
	require.NoError(t, err)

	const borrowers = 50
	var wg sync.WaitGroup
	results := make(chan error, borrowers)
	start := make(chan struct{})
	for i := 0; i < borrowers; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			<-start
			_, err := ls.Borrow(ctx, dune.ID, user)
			results <- err
		}(fmt.Sprintf("user-%d", i))
	}
	close(start)
	wg.Wait()
	close(results)

	var succeeded, refused int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrBookBorrowed):
			refused++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, borrowers-1, refused)

	records, err := store.ledgerStorage().ListByBook(ctx, dune.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 0, ls.locks.Size())
}

// TestLendingService_ConcurrentReturn ensures a record is closed only once.
func TestLendingService_ConcurrentReturn(t *testing.T) {
	cs, ls, _ := testServices(NewMockClocker())
	ctx := context.Background()
	dune, err := cs.Create(ctx, duneBook())
	require.NoError(t, err)
	_, err = ls.Borrow(ctx, dune.ID, "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ls.Return(ctx, dune.ID, "alice"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrBookNotBorrowed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestLendingService_LedgerFailure(t *testing.T) {
	books := &MockBookStorage{
		GetOneFunc: func(ctx context.Context, id int64) (Book, error) {
			return Book{ID: id}, nil
		},
	}
	ledger := &MockLedgerStorage{
		GetOutstandingFunc: func(ctx context.Context, bookID int64) (BorrowRecord, error) {
			return BorrowRecord{}, errors.New("connection refused")
		},
	}
	ls := NewLendingService(zap.NewNop(), NewMockClocker(), NewKeyedMutex(), books, ledger, nil)

	_, err := ls.Borrow(context.Background(), 1, "alice")
	require.Error(t, err)
	assert.Equal(t, 500, StatusFromError(err))

	_, _, err = ls.CurrentBorrower(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 500, StatusFromError(err))
}
