package main

import (
	"context"
	"time"
)

// This file contains mocks definitions needed to perform unit tests.

type MockBookStorage struct {
	AddFunc           func(ctx context.Context, book Book) (Book, error)
	GetOneFunc        func(ctx context.Context, id int64) (Book, error)
	UpdateFunc        func(ctx context.Context, book Book) (Book, error)
	DeleteFunc        func(ctx context.Context, id int64) error
	GetPageFunc       func(ctx context.Context, offset, limit int) ([]Book, int, error)
	SearchFunc        func(ctx context.Context, criteria SearchCriteria) ([]Book, error)
	GetByCategoryFunc func(ctx context.Context, category Category) ([]Book, error)
	FindConflictFunc  func(ctx context.Context, isbn, title string, excludeID int64) (Book, bool, error)
}

// Add mocks the behavior of book creation by the repository.
func (m *MockBookStorage) Add(ctx context.Context, book Book) (Book, error) {
	return m.AddFunc(ctx, book)
}

// GetOne mocks the behavior of retrieving a book by the repository.
func (m *MockBookStorage) GetOne(ctx context.Context, id int64) (Book, error) {
	return m.GetOneFunc(ctx, id)
}

// Update mocks the behavior of updating a book by the repository.
func (m *MockBookStorage) Update(ctx context.Context, book Book) (Book, error) {
	return m.UpdateFunc(ctx, book)
}

// Delete mocks the behavior of deleting a book by the repository.
func (m *MockBookStorage) Delete(ctx context.Context, id int64) error {
	return m.DeleteFunc(ctx, id)
}

// GetPage mocks the behavior of paging books by the repository.
func (m *MockBookStorage) GetPage(ctx context.Context, offset, limit int) ([]Book, int, error) {
	return m.GetPageFunc(ctx, offset, limit)
}

// Search mocks the behavior of searching books by the repository.
func (m *MockBookStorage) Search(ctx context.Context, criteria SearchCriteria) ([]Book, error) {
	return m.SearchFunc(ctx, criteria)
}

// GetByCategory mocks the behavior of filtering books by category.
func (m *MockBookStorage) GetByCategory(ctx context.Context, category Category) ([]Book, error) {
	return m.GetByCategoryFunc(ctx, category)
}

// FindConflict mocks the uniqueness lookup of the repository.
func (m *MockBookStorage) FindConflict(ctx context.Context, isbn, title string, excludeID int64) (Book, bool, error) {
	return m.FindConflictFunc(ctx, isbn, title, excludeID)
}

type MockLedgerStorage struct {
	OpenFunc           func(ctx context.Context, record BorrowRecord) (BorrowRecord, error)
	GetOutstandingFunc func(ctx context.Context, bookID int64) (BorrowRecord, error)
	CloseFunc          func(ctx context.Context, recordID int64, returnedAt time.Time) (BorrowRecord, error)
	ListByBookFunc     func(ctx context.Context, bookID int64) ([]BorrowRecord, error)
}

func (m *MockLedgerStorage) Open(ctx context.Context, record BorrowRecord) (BorrowRecord, error) {
	return m.OpenFunc(ctx, record)
}

func (m *MockLedgerStorage) GetOutstanding(ctx context.Context, bookID int64) (BorrowRecord, error) {
	return m.GetOutstandingFunc(ctx, bookID)
}

func (m *MockLedgerStorage) Close(ctx context.Context, recordID int64, returnedAt time.Time) (BorrowRecord, error) {
	return m.CloseFunc(ctx, recordID, returnedAt)
}

func (m *MockLedgerStorage) ListByBook(ctx context.Context, bookID int64) ([]BorrowRecord, error) {
	return m.ListByBookFunc(ctx, bookID)
}

// MockQueuer implements a fake Queuer.
type MockQueuer struct {
	PushFunc func(ctx context.Context, qid string, ev Event) error
	PopFunc  func(ctx context.Context, qids ...string) (string, Event, error)
}

func (m *MockQueuer) Push(ctx context.Context, qid string, ev Event) error {
	return m.PushFunc(ctx, qid, ev)
}

func (m *MockQueuer) Pop(ctx context.Context, qids ...string) (string, Event, error) {
	return m.PopFunc(ctx, qids...)
}

// MockJournal implements a fake JournalStorage.
type MockJournal struct {
	AppendFunc func(ctx context.Context, ev Event) (Event, error)
	ListFunc   func(ctx context.Context, bookID int64, limit int) ([]Event, error)
}

func (m *MockJournal) Append(ctx context.Context, ev Event) (Event, error) {
	return m.AppendFunc(ctx, ev)
}

func (m *MockJournal) List(ctx context.Context, bookID int64, limit int) ([]Event, error) {
	return m.ListFunc(ctx, bookID, limit)
}

func (m *MockJournal) Close() error {
	return nil
}

// MockClocker implements a fake Clocker.
type MockClocker struct {
	MockNow time.Time
}

// NewMockClocker returns a mocked instance with fixed time.
func NewMockClocker() *MockClocker {
	return &MockClocker{time.Date(2023, 0o7, 0o2, 0o0, 0o0, 0o0, 0o00000000, time.UTC)}
}

// Now returns an already defined time to be used as mock. This
// equals to `Sun, 02 Jul 2023 00:00:00 UTC` in time.RFC1123 format.
// equals to `2023-07-02 00:00:00 +0000 UTC` in String format.
func (mck *MockClocker) Now() time.Time {
	return mck.MockNow
}

// MockUIDHandler implements a fake UIDHandler.
type MockUIDHandler struct {
	MockedUID string
	Valid     bool
}

// NewMockUIDHandler returns a mocked instance with predictable id.
func NewMockUIDHandler(id string, valid bool) *MockUIDHandler {
	return &MockUIDHandler{MockedUID: id, Valid: valid}
}

// Generate constructs a predictable id to be used as mock.
func (muid *MockUIDHandler) Generate(prefix string) string {
	return prefix + ":" + muid.MockedUID
}

// IsValid mocks IsValid behavior by providing configured status.
func (muid *MockUIDHandler) IsValid(_, _ string) bool {
	return muid.Valid
}
