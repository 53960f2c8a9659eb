package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keys of the catalog and the borrow ledger.
const (
	KBooksSeq     string = "books:seq"
	HBooks        string = "books"
	ZBooksIDs     string = "books:ids"
	HBooksISBN    string = "books:isbn"
	HBooksTitle   string = "books:title"
	KBorrowsSeq   string = "borrows:seq"
	HBorrows      string = "borrows"
	HBorrowsOpen  string = "borrows:open"
	LBorrowsBook  string = "borrows:book:"
	defaultTxRuns int    = 10
)

var (
	_ BookStorage   = (*redisBookStorage)(nil)
	_ LedgerStorage = (*redisLedgerStorage)(nil)
)

type redisBookStorage struct {
	logger     *zap.Logger
	client     *redis.Client
	maxRetries int
}

// NewRedisBookStorage provides an instance of redis-based book storage.
func NewRedisBookStorage(logger *zap.Logger, client *redis.Client, maxRetries int) BookStorage {
	return &redisBookStorage{
		logger:     logger,
		client:     client,
		maxRetries: maxRetries,
	}
}

// GetRedisClient provides a ready to use redis client.
func GetRedisClient(config *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", config.Redis.Host, config.Redis.Port),
		DialTimeout:  config.Redis.DialTimeout,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
		PoolSize:     config.Redis.PoolSize,
		PoolTimeout:  config.Redis.PoolTimeout,
		Password:     config.Redis.Password,
		Username:     config.Redis.Username,
		DB:           config.Redis.DatabaseIndex,
	})

	// test connection.
	if pong, err := client.Ping(context.Background()).Result(); pong != "PONG" || err != nil {
		return client, fmt.Errorf("test connection failed: %v", err)
	}
	return client, nil
}

// watch runs fn inside an optimistic transaction over keys. The whole
// transaction is replayed when a watched key changed before EXEC.
func watch(ctx context.Context, client *redis.Client, maxRetries int, fn func(*redis.Tx) error, keys ...string) error {
	if maxRetries <= 0 {
		maxRetries = defaultTxRuns
	}
	for i := 0; i < maxRetries; i++ {
		err := client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis: transaction aborted after %d attempts: %w", maxRetries, redis.TxFailedErr)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func borrowsOfBookKey(bookID int64) string {
	return LBorrowsBook + formatID(bookID)
}

func decodeBook(raw string) (Book, error) {
	var book Book
	err := json.Unmarshal([]byte(raw), &book)
	return book, err
}

// Add inserts a new book record with the next id of the sequence.
func (rs *redisBookStorage) Add(ctx context.Context, book Book) (Book, error) {
	id, err := rs.client.Incr(ctx, KBooksSeq).Result()
	if err != nil {
		return Book{}, err
	}
	book.ID = id
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return Book{}, err
	}
	member := formatID(id)

	txf := func(tx *redis.Tx) error {
		if err := ensureFree(ctx, tx, book.ISBN, book.Title, 0); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, HBooks, member, bookBytes)
			pipe.ZAdd(ctx, ZBooksIDs, redis.Z{Score: float64(id), Member: member})
			pipe.HSet(ctx, HBooksISBN, book.ISBN, member)
			pipe.HSet(ctx, HBooksTitle, book.Title, member)
			return nil
		})
		return err
	}

	if err = watch(ctx, rs.client, rs.maxRetries, txf, HBooksISBN, HBooksTitle); err != nil {
		return Book{}, err
	}
	return book, nil
}

// ensureFree fails with ErrBookExists when isbn or title is indexed for another book.
func ensureFree(ctx context.Context, tx *redis.Tx, isbn, title string, excludeID int64) error {
	for _, idx := range [][2]string{{HBooksISBN, isbn}, {HBooksTitle, title}} {
		owner, err := tx.HGet(ctx, idx[0], idx[1]).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		if owner != formatID(excludeID) {
			return ErrBookExists
		}
	}
	return nil
}

// GetOne retrieves a book record based on its ID.
func (rs *redisBookStorage) GetOne(ctx context.Context, id int64) (Book, error) {
	bookJSONString, err := rs.client.HGet(ctx, HBooks, formatID(id)).Result()
	if err == redis.Nil {
		return Book{}, ErrBookNotFound
	}
	if err != nil {
		return Book{}, err
	}
	return decodeBook(bookJSONString)
}

// Update replaces an existing book record and moves its isbn/title index entries.
func (rs *redisBookStorage) Update(ctx context.Context, book Book) (Book, error) {
	member := formatID(book.ID)
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return Book{}, err
	}

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, HBooks, member).Result()
		if err == redis.Nil {
			return ErrBookNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeBook(raw)
		if err != nil {
			return err
		}
		if err = ensureFree(ctx, tx, book.ISBN, book.Title, book.ID); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if current.ISBN != book.ISBN {
				pipe.HDel(ctx, HBooksISBN, current.ISBN)
			}
			if current.Title != book.Title {
				pipe.HDel(ctx, HBooksTitle, current.Title)
			}
			pipe.HSet(ctx, HBooksISBN, book.ISBN, member)
			pipe.HSet(ctx, HBooksTitle, book.Title, member)
			pipe.HSet(ctx, HBooks, member, bookBytes)
			return nil
		})
		return err
	}

	if err = watch(ctx, rs.client, rs.maxRetries, txf, HBooks, HBooksISBN, HBooksTitle); err != nil {
		return Book{}, err
	}
	return book, nil
}

// Delete removes a book record with its index entries and all its borrow records.
func (rs *redisBookStorage) Delete(ctx context.Context, id int64) error {
	member := formatID(id)
	listKey := borrowsOfBookKey(id)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, HBooks, member).Result()
		if err == redis.Nil {
			return ErrBookNotFound
		}
		if err != nil {
			return err
		}
		book, err := decodeBook(raw)
		if err != nil {
			return err
		}
		recordIDs, err := tx.LRange(ctx, listKey, 0, -1).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, HBooks, member)
			pipe.ZRem(ctx, ZBooksIDs, member)
			pipe.HDel(ctx, HBooksISBN, book.ISBN)
			pipe.HDel(ctx, HBooksTitle, book.Title)
			if len(recordIDs) > 0 {
				pipe.HDel(ctx, HBorrows, recordIDs...)
			}
			pipe.Del(ctx, listKey)
			pipe.HDel(ctx, HBorrowsOpen, member)
			return nil
		})
		return err
	}

	return watch(ctx, rs.client, rs.maxRetries, txf, HBooks, HBorrowsOpen, listKey)
}

// GetPage retrieves books in id order starting at offset and the total count.
func (rs *redisBookStorage) GetPage(ctx context.Context, offset, limit int) ([]Book, int, error) {
	total, err := rs.client.ZCard(ctx, ZBooksIDs).Result()
	if err != nil {
		return nil, 0, err
	}
	ids, err := rs.client.ZRange(ctx, ZBooksIDs, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, err
	}
	books := []Book{}
	if len(ids) == 0 {
		return books, int(total), nil
	}
	values, err := rs.client.HMGet(ctx, HBooks, ids...).Result()
	if err != nil {
		return nil, 0, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		book, err := decodeBook(raw)
		if err != nil {
			return nil, 0, err
		}
		books = append(books, book)
	}
	return books, int(total), nil
}

// Search retrieves books whose title contains criteria.Title ignoring
// case or whose isbn equals criteria.ISBN. Empty conditions are skipped.
func (rs *redisBookStorage) Search(ctx context.Context, criteria SearchCriteria) ([]Book, error) {
	title := strings.ToLower(criteria.Title)
	return rs.filter(ctx, func(b Book) bool {
		if title != "" && strings.Contains(strings.ToLower(b.Title), title) {
			return true
		}
		return criteria.ISBN != "" && b.ISBN == criteria.ISBN
	})
}

// GetByCategory retrieves all books of a category.
func (rs *redisBookStorage) GetByCategory(ctx context.Context, category Category) ([]Book, error) {
	return rs.filter(ctx, func(b Book) bool {
		return b.Category == category
	})
}

// FindConflict returns a book other than excludeID which already uses isbn or title.
func (rs *redisBookStorage) FindConflict(ctx context.Context, isbn, title string, excludeID int64) (Book, bool, error) {
	for _, idx := range [][2]string{{HBooksISBN, isbn}, {HBooksTitle, title}} {
		owner, err := rs.client.HGet(ctx, idx[0], idx[1]).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return Book{}, false, err
		}
		id, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			return Book{}, false, fmt.Errorf("redis: invalid index entry %s[%s]: %w", idx[0], idx[1], err)
		}
		if id == excludeID {
			continue
		}
		book, err := rs.GetOne(ctx, id)
		if err != nil {
			return Book{}, false, err
		}
		return book, true, nil
	}
	return Book{}, false, nil
}

// filter scans the whole books hash. The result is sorted by id.
func (rs *redisBookStorage) filter(ctx context.Context, keep func(Book) bool) ([]Book, error) {
	values, err := rs.client.HVals(ctx, HBooks).Result()
	if err != nil {
		return nil, err
	}
	books := []Book{}
	for _, raw := range values {
		book, err := decodeBook(raw)
		if err != nil {
			return nil, err
		}
		if keep(book) {
			books = append(books, book)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

type redisLedgerStorage struct {
	logger     *zap.Logger
	client     *redis.Client
	maxRetries int
}

// NewRedisLedgerStorage provides an instance of redis-based borrow ledger.
func NewRedisLedgerStorage(logger *zap.Logger, client *redis.Client, maxRetries int) LedgerStorage {
	return &redisLedgerStorage{
		logger:     logger,
		client:     client,
		maxRetries: maxRetries,
	}
}

func decodeRecord(raw string) (BorrowRecord, error) {
	var record BorrowRecord
	err := json.Unmarshal([]byte(raw), &record)
	return record, err
}

// Open stores a new outstanding record. It fails if the book does not
// exist or already has an outstanding record.
func (rl *redisLedgerStorage) Open(ctx context.Context, record BorrowRecord) (BorrowRecord, error) {
	id, err := rl.client.Incr(ctx, KBorrowsSeq).Result()
	if err != nil {
		return BorrowRecord{}, err
	}
	record.ID = id
	record.ReturnedAt = nil
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return BorrowRecord{}, err
	}
	bookMember := formatID(record.BookID)
	member := formatID(id)

	txf := func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, HBooks, bookMember).Result()
		if err != nil {
			return err
		}
		if !exists {
			return ErrBookNotFound
		}
		open, err := tx.HExists(ctx, HBorrowsOpen, bookMember).Result()
		if err != nil {
			return err
		}
		if open {
			return ErrBookBorrowed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, HBorrows, member, recordBytes)
			pipe.RPush(ctx, borrowsOfBookKey(record.BookID), member)
			pipe.HSet(ctx, HBorrowsOpen, bookMember, member)
			return nil
		})
		return err
	}

	if err = watch(ctx, rl.client, rl.maxRetries, txf, HBooks, HBorrowsOpen); err != nil {
		return BorrowRecord{}, err
	}
	return record, nil
}

// GetOutstanding returns the open record of a book or ErrNoOutstanding.
func (rl *redisLedgerStorage) GetOutstanding(ctx context.Context, bookID int64) (BorrowRecord, error) {
	member, err := rl.client.HGet(ctx, HBorrowsOpen, formatID(bookID)).Result()
	if err == redis.Nil {
		return BorrowRecord{}, ErrNoOutstanding
	}
	if err != nil {
		return BorrowRecord{}, err
	}
	raw, err := rl.client.HGet(ctx, HBorrows, member).Result()
	if err == redis.Nil {
		return BorrowRecord{}, ErrNoOutstanding
	}
	if err != nil {
		return BorrowRecord{}, err
	}
	return decodeRecord(raw)
}

// Close sets the return time of a record which must still be outstanding.
func (rl *redisLedgerStorage) Close(ctx context.Context, recordID int64, returnedAt time.Time) (BorrowRecord, error) {
	member := formatID(recordID)
	var record BorrowRecord

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, HBorrows, member).Result()
		if err == redis.Nil {
			return ErrBorrowNotFound
		}
		if err != nil {
			return err
		}
		record, err = decodeRecord(raw)
		if err != nil {
			return err
		}
		if !record.IsOutstanding() {
			return ErrBookNotBorrowed
		}
		bookMember := formatID(record.BookID)
		openID, err := tx.HGet(ctx, HBorrowsOpen, bookMember).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if openID != member {
			return ErrBookNotBorrowed
		}
		at := returnedAt
		record.ReturnedAt = &at
		recordBytes, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, HBorrows, member, recordBytes)
			pipe.HDel(ctx, HBorrowsOpen, bookMember)
			return nil
		})
		return err
	}

	if err := watch(ctx, rl.client, rl.maxRetries, txf, HBorrows, HBorrowsOpen); err != nil {
		return BorrowRecord{}, err
	}
	return record, nil
}

// ListByBook retrieves all records of a book in creation order.
func (rl *redisLedgerStorage) ListByBook(ctx context.Context, bookID int64) ([]BorrowRecord, error) {
	ids, err := rl.client.LRange(ctx, borrowsOfBookKey(bookID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	records := []BorrowRecord{}
	if len(ids) == 0 {
		return records, nil
	}
	values, err := rl.client.HMGet(ctx, HBorrows, ids...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
