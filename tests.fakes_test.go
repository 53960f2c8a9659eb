package main

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var nopLogger = zap.NewNop()

// memStore is an in-memory catalog and ledger used by the services tests.
type memStore struct {
	mu       sync.Mutex
	bookSeq  int64
	books    map[int64]Book
	recSeq   int64
	records  map[int64]BorrowRecord
	pushed   []Event
	pushedMu sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		books:   make(map[int64]Book),
		records: make(map[int64]BorrowRecord),
	}
}

func (s *memStore) bookStorage() BookStorage     { return (*memBooks)(s) }
func (s *memStore) ledgerStorage() LedgerStorage { return (*memLedger)(s) }

// Push records published events so tests can assert on them.
func (s *memStore) Push(_ context.Context, _ string, ev Event) error {
	s.pushedMu.Lock()
	defer s.pushedMu.Unlock()
	s.pushed = append(s.pushed, ev)
	return nil
}

func (s *memStore) Pop(ctx context.Context, _ ...string) (string, Event, error) {
	<-ctx.Done()
	return "", Event{}, ctx.Err()
}

func (s *memStore) events() []Event {
	s.pushedMu.Lock()
	defer s.pushedMu.Unlock()
	return append([]Event(nil), s.pushed...)
}

type memBooks memStore

func (m *memBooks) Add(_ context.Context, book Book) (Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.books {
		if b.ISBN == book.ISBN || b.Title == book.Title {
			return Book{}, ErrBookExists
		}
	}
	m.bookSeq++
	book.ID = m.bookSeq
	m.books[book.ID] = book
	return book, nil
}

func (m *memBooks) GetOne(_ context.Context, id int64) (Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return Book{}, ErrBookNotFound
	}
	return book, nil
}

func (m *memBooks) Update(_ context.Context, book Book) (Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[book.ID]; !ok {
		return Book{}, ErrBookNotFound
	}
	m.books[book.ID] = book
	return book, nil
}

func (m *memBooks) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return ErrBookNotFound
	}
	delete(m.books, id)
	for rid, r := range m.records {
		if r.BookID == id {
			delete(m.records, rid)
		}
	}
	return nil
}

func (m *memBooks) sorted(keep func(Book) bool) []Book {
	books := []Book{}
	for _, b := range m.books {
		if keep(b) {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books
}

func (m *memBooks) GetPage(_ context.Context, offset, limit int) ([]Book, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(Book) bool { return true })
	if offset >= len(all) {
		return []Book{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *memBooks) Search(_ context.Context, criteria SearchCriteria) ([]Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	title := strings.ToLower(criteria.Title)
	return m.sorted(func(b Book) bool {
		if title != "" && strings.Contains(strings.ToLower(b.Title), title) {
			return true
		}
		return criteria.ISBN != "" && b.ISBN == criteria.ISBN
	}), nil
}

func (m *memBooks) GetByCategory(_ context.Context, category Category) ([]Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(b Book) bool { return b.Category == category }), nil
}

func (m *memBooks) FindConflict(_ context.Context, isbn, title string, excludeID int64) (Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.sorted(func(b Book) bool { return b.ID != excludeID }) {
		if b.ISBN == isbn || b.Title == title {
			return b, true, nil
		}
	}
	return Book{}, false, nil
}

type memLedger memStore

func (m *memLedger) Open(_ context.Context, record BorrowRecord) (BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[record.BookID]; !ok {
		return BorrowRecord{}, ErrBookNotFound
	}
	for _, r := range m.records {
		if r.BookID == record.BookID && r.IsOutstanding() {
			return BorrowRecord{}, ErrBookBorrowed
		}
	}
	m.recSeq++
	record.ID = m.recSeq
	record.ReturnedAt = nil
	m.records[record.ID] = record
	return record, nil
}

func (m *memLedger) GetOutstanding(_ context.Context, bookID int64) (BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.BookID == bookID && r.IsOutstanding() {
			return r, nil
		}
	}
	return BorrowRecord{}, ErrNoOutstanding
}

func (m *memLedger) Close(_ context.Context, recordID int64, returnedAt time.Time) (BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordID]
	if !ok {
		return BorrowRecord{}, ErrBorrowNotFound
	}
	if !r.IsOutstanding() {
		return BorrowRecord{}, ErrBookNotBorrowed
	}
	r.ReturnedAt = &returnedAt
	m.records[recordID] = r
	return r, nil
}

func (m *memLedger) ListByBook(_ context.Context, bookID int64) ([]BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := []BorrowRecord{}
	for _, r := range m.records {
		if r.BookID == bookID {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// testServices wires both services on a fresh memStore.
func testServices(clock Clocker) (*CatalogService, *LendingService, *memStore) {
	store := newMemStore()
	config := &Config{Pagination: PaginationConfig{Page: 1, Limit: 10, MaxLimit: 100}}
	locks := NewKeyedMutex()
	cs := NewCatalogService(nopLogger, config, clock, locks, store.bookStorage(), store, nil)
	ls := NewLendingService(nopLogger, clock, locks, store.bookStorage(), store.ledgerStorage(), store)
	return cs, ls, store
}

// duneBook returns a valid book to create.
func duneBook() Book {
	return Book{
		Title:         "Dune",
		Author:        "Frank Herbert",
		ISBN:          "978-0441013593",
		Price:         9.99,
		Category:      CategoryFiction,
		PublishedYear: 1965,
	}
}

// memCacheBus delivers cache invalidations synchronously to its listeners.
type memCacheBus struct {
	mu    sync.Mutex
	drops []func(id int64)
}

func (b *memCacheBus) Notify(_ context.Context, id int64) error {
	b.mu.Lock()
	drops := append([]func(int64){}, b.drops...)
	b.mu.Unlock()
	for _, drop := range drops {
		drop(id)
	}
	return nil
}

func (b *memCacheBus) Listen(ctx context.Context, drop func(id int64), reset func()) error {
	reset()
	b.mu.Lock()
	b.drops = append(b.drops, drop)
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (b *memCacheBus) listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.drops)
}
