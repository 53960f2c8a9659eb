package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

type CatalogServiceProvider interface {
	Create(ctx context.Context, book Book) (Book, error)
	List(ctx context.Context, page, limit int) (BookPage, error)
	Get(ctx context.Context, id int64) (Book, error)
	Search(ctx context.Context, criteria SearchCriteria) ([]Book, error)
	Update(ctx context.Context, id int64, patch BookPatch) (Book, error)
	Delete(ctx context.Context, id int64) error
	SearchByCategory(ctx context.Context, category string) ([]Book, error)
}

type CatalogService struct {
	logger   *zap.Logger
	config   *Config
	clock    Clocker
	locks    *KeyedMutex
	storage  BookStorage
	queue    Queuer
	cache    *BookCache
	notifier CacheNotifier
}

func NewCatalogService(logger *zap.Logger, config *Config, clock Clocker, locks *KeyedMutex, storage BookStorage, queue Queuer, cache *BookCache) *CatalogService {
	return &CatalogService{
		logger:  logger,
		config:  config,
		clock:   clock,
		locks:   locks,
		storage: storage,
		queue:   queue,
		cache:   cache,
	}
}

// WithCacheNotifier shares the cache invalidations of the service with the
// other api instances using the same notifier.
func (cs *CatalogService) WithCacheNotifier(n CacheNotifier) *CatalogService {
	cs.notifier = n
	return cs
}

// Create stores a new book once its isbn and title are known to be free.
func (cs *CatalogService) Create(ctx context.Context, book Book) (Book, error) {
	book, err := normalizeBook(book)
	if err != nil {
		return Book{}, err
	}

	unlock := cs.locks.Lock(CatalogLockKey)
	defer unlock()

	if err = cs.checkConflict(ctx, book.ISBN, book.Title, 0); err != nil {
		return Book{}, err
	}

	now := cs.clock.Now().UTC()
	book.ID = 0
	book.CreatedAt = now
	book.UpdatedAt = now
	book, err = cs.storage.Add(ctx, book)
	if err != nil {
		return Book{}, fmt.Errorf("service: add book: %w", err)
	}

	cs.cache.Set(book)
	cs.publish(ctx, CatalogQueue, Event{Type: EventBookCreated, BookID: book.ID, At: now, Book: &book})
	return book, nil
}

// List returns one page of the catalog in id order.
func (cs *CatalogService) List(ctx context.Context, page, limit int) (BookPage, error) {
	if page <= 0 || limit <= 0 {
		return BookPage{}, ErrInvalidPagination
	}
	if page-1 > math.MaxInt/limit {
		return BookPage{}, ErrInvalidPagination
	}
	if cs.config != nil && cs.config.Pagination.MaxLimit > 0 && limit > cs.config.Pagination.MaxLimit {
		return BookPage{}, fmt.Errorf("%w: limit must not exceed %d", ErrInvalidArgument, cs.config.Pagination.MaxLimit)
	}

	books, total, err := cs.storage.GetPage(ctx, (page-1)*limit, limit)
	if err != nil {
		return BookPage{}, fmt.Errorf("service: get books page: %w", err)
	}
	return BookPage{Books: books, Total: total, Page: page, Limit: limit}, nil
}

// Get returns a single book, from the cache when possible. A miss is filled
// under the book lock so a concurrent update or delete cannot be overwritten
// by the value read before it.
func (cs *CatalogService) Get(ctx context.Context, id int64) (Book, error) {
	if book, ok := cs.cache.Get(id); ok {
		return book, nil
	}
	if cs.cache == nil {
		return cs.storage.GetOne(ctx, id)
	}

	unlock := cs.locks.Lock(BookLockKey(id))
	defer unlock()
	if book, ok := cs.cache.Get(id); ok {
		return book, nil
	}
	book, err := cs.storage.GetOne(ctx, id)
	if err != nil {
		return Book{}, err
	}
	cs.cache.Set(book)
	return book, nil
}

// Search returns the books whose title contains criteria.Title (case-insensitive)
// or whose isbn equals criteria.ISBN. No criteria means no result.
func (cs *CatalogService) Search(ctx context.Context, criteria SearchCriteria) ([]Book, error) {
	criteria.Title = strings.TrimSpace(criteria.Title)
	criteria.ISBN = strings.TrimSpace(criteria.ISBN)
	if criteria.IsEmpty() {
		return []Book{}, nil
	}
	books, err := cs.storage.Search(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("service: search books: %w", err)
	}
	return books, nil
}

// Update applies a partial change to an existing book. The uniqueness check
// ignores the book itself so unchanged isbn or title values are accepted.
func (cs *CatalogService) Update(ctx context.Context, id int64, patch BookPatch) (Book, error) {
	if patch.IsEmpty() {
		return Book{}, ErrEmptyUpdate
	}

	unlockCatalog := cs.locks.Lock(CatalogLockKey)
	defer unlockCatalog()
	unlockBook := cs.locks.Lock(BookLockKey(id))
	defer unlockBook()

	current, err := cs.storage.GetOne(ctx, id)
	if err != nil {
		return Book{}, err
	}

	book, err := normalizeBook(patch.Apply(current))
	if err != nil {
		return Book{}, err
	}

	if book.ISBN != current.ISBN || book.Title != current.Title {
		if err = cs.checkConflict(ctx, book.ISBN, book.Title, id); err != nil {
			return Book{}, err
		}
	}

	now := cs.clock.Now().UTC()
	book.ID = current.ID
	book.CreatedAt = current.CreatedAt
	book.UpdatedAt = now
	book, err = cs.storage.Update(ctx, book)
	if err != nil {
		cs.invalidate(ctx, id)
		return Book{}, fmt.Errorf("service: update book: %w", err)
	}

	cs.cache.Set(book)
	cs.notify(ctx, id)
	cs.publish(ctx, CatalogQueue, Event{Type: EventBookUpdated, BookID: book.ID, At: now, Book: &book})
	return book, nil
}

// Delete removes a book and all its borrow records.
func (cs *CatalogService) Delete(ctx context.Context, id int64) error {
	unlock := cs.locks.Lock(BookLockKey(id))
	defer unlock()

	err := cs.storage.Delete(ctx, id)
	cs.invalidate(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("service: delete book: %w", err)
	}
	cs.publish(ctx, CatalogQueue, Event{Type: EventBookDeleted, BookID: id, At: cs.clock.Now().UTC()})
	return nil
}

// SearchByCategory lists every book of a known category.
func (cs *CatalogService) SearchByCategory(ctx context.Context, category string) ([]Book, error) {
	c, ok := ParseCategory(category)
	if !ok {
		return nil, ErrInvalidCategory
	}
	books, err := cs.storage.GetByCategory(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("service: get books by category: %w", err)
	}
	return books, nil
}

func (cs *CatalogService) checkConflict(ctx context.Context, isbn, title string, excludeID int64) error {
	_, found, err := cs.storage.FindConflict(ctx, isbn, title, excludeID)
	if err != nil {
		return fmt.Errorf("service: check book uniqueness: %w", err)
	}
	if found {
		return ErrBookExists
	}
	return nil
}

// SyncCache drops the cached books changed by other instances until ctx is done.
func (cs *CatalogService) SyncCache(ctx context.Context) error {
	if cs.notifier == nil || cs.cache == nil {
		return nil
	}
	drop := func(id int64) {
		unlock := cs.locks.Lock(BookLockKey(id))
		cs.cache.Remove(id)
		unlock()
	}
	return cs.notifier.Listen(ctx, drop, cs.cache.Purge)
}

func (cs *CatalogService) invalidate(ctx context.Context, id int64) {
	cs.cache.Remove(id)
	cs.notify(ctx, id)
}

func (cs *CatalogService) notify(ctx context.Context, id int64) {
	if cs.notifier == nil {
		return
	}
	if err := cs.notifier.Notify(ctx, id); err != nil {
		cs.logger.Warn("failed to notify book cache invalidation", zap.Int64("book.id", id), zap.Error(err))
	}
}

func (cs *CatalogService) publish(ctx context.Context, qid string, ev Event) {
	PushEvent(ctx, cs.logger, cs.queue, qid, ev)
}

// normalizeBook checks the domain rules of a book which the request
// validation is expected to have enforced already.
func normalizeBook(book Book) (Book, error) {
	if strings.TrimSpace(book.Title) == "" {
		return book, invalidFieldError{"title", "must not be empty"}
	}
	if strings.TrimSpace(book.ISBN) == "" {
		return book, invalidFieldError{"isbn", "must not be empty"}
	}
	if book.Price < 0 {
		return book, invalidFieldError{"price", "must not be negative"}
	}
	if book.PublishedYear < 0 {
		return book, invalidFieldError{"publishedYear", "must not be negative"}
	}
	c, ok := ParseCategory(string(book.Category))
	if !ok {
		return book, ErrInvalidCategory
	}
	book.Category = c
	return book, nil
}
