package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	tableBooks   = "books"
	tableBorrows = "borrow_records"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	outstandingConstraint = "borrow_records_outstanding_key"
)

var (
	_ BookStorage   = (*postgresBookStorage)(nil)
	_ LedgerStorage = (*postgresLedgerStorage)(nil)

	pgDialect     = goqu.Dialect("postgres")
	bookColumns   = []interface{}{"id", "title", "author", "isbn", "price", "category", "published_year", "created_at", "updated_at"}
	borrowColumns = []interface{}{"id", "book_id", "user_id", "borrowed_at", "returned_at"}
)

// GetPostgresPool provides a ready to use connection pool.
func GetPostgresPool(ctx context.Context, config *Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(config.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if config.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = config.Postgres.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// test connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("test connection failed: %w", err)
	}
	return pool, nil
}

// MigratePostgres applies the embedded schema migrations.
func MigratePostgres(config *Config, logger *zap.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, config.Postgres.MigrationURL())
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("postgres migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// pgErrorCode returns the SQLSTATE and constraint name of a postgres error.
func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// escapeLike neutralizes the pattern characters of a LIKE operand.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanBook(row pgx.Row) (Book, error) {
	var book Book
	var category string
	err := row.Scan(&book.ID, &book.Title, &book.Author, &book.ISBN, &book.Price,
		&category, &book.PublishedYear, &book.CreatedAt, &book.UpdatedAt)
	book.Category = Category(category)
	book.CreatedAt = book.CreatedAt.UTC()
	book.UpdatedAt = book.UpdatedAt.UTC()
	return book, err
}

func scanRecord(row pgx.Row) (BorrowRecord, error) {
	var record BorrowRecord
	err := row.Scan(&record.ID, &record.BookID, &record.UserID, &record.BorrowedAt, &record.ReturnedAt)
	record.BorrowedAt = record.BorrowedAt.UTC()
	if record.ReturnedAt != nil {
		at := record.ReturnedAt.UTC()
		record.ReturnedAt = &at
	}
	return record, err
}

type postgresBookStorage struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
}

// NewPostgresBookStorage provides an instance of postgres-based book storage.
func NewPostgresBookStorage(logger *zap.Logger, pool *pgxpool.Pool) BookStorage {
	return &postgresBookStorage{logger: logger, pool: pool}
}

func bookRecord(book Book) goqu.Record {
	return goqu.Record{
		"title":          book.Title,
		"author":         book.Author,
		"isbn":           book.ISBN,
		"price":          book.Price,
		"category":       string(book.Category),
		"published_year": book.PublishedYear,
		"created_at":     book.CreatedAt,
		"updated_at":     book.UpdatedAt,
	}
}

// mapBookWriteError translates constraint violations on the books table.
func mapBookWriteError(err error) error {
	if code, _ := pgErrorCode(err); code == pgUniqueViolation {
		return ErrBookExists
	}
	return err
}

// Add inserts a new book record and returns it with its assigned id.
func (ps *postgresBookStorage) Add(ctx context.Context, book Book) (Book, error) {
	query, args, err := pgDialect.Insert(tableBooks).
		Rows(bookRecord(book)).
		Returning(bookColumns...).
		Prepared(true).ToSQL()
	if err != nil {
		return Book{}, fmt.Errorf("postgres: build insert book: %w", err)
	}
	created, err := scanBook(ps.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return Book{}, mapBookWriteError(err)
	}
	return created, nil
}

// GetOne retrieves a book record based on its ID.
func (ps *postgresBookStorage) GetOne(ctx context.Context, id int64) (Book, error) {
	query, args, err := pgDialect.From(tableBooks).
		Select(bookColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return Book{}, fmt.Errorf("postgres: build select book: %w", err)
	}
	book, err := scanBook(ps.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Book{}, ErrBookNotFound
	}
	return book, err
}

// Update replaces the mutable fields of an existing book record.
func (ps *postgresBookStorage) Update(ctx context.Context, book Book) (Book, error) {
	record := bookRecord(book)
	delete(record, "created_at")
	query, args, err := pgDialect.Update(tableBooks).
		Set(record).
		Where(goqu.C("id").Eq(book.ID)).
		Returning(bookColumns...).
		Prepared(true).ToSQL()
	if err != nil {
		return Book{}, fmt.Errorf("postgres: build update book: %w", err)
	}
	updated, err := scanBook(ps.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Book{}, ErrBookNotFound
	}
	if err != nil {
		return Book{}, mapBookWriteError(err)
	}
	return updated, nil
}

// Delete removes a book record. Its borrow records go with it through the foreign key cascade.
func (ps *postgresBookStorage) Delete(ctx context.Context, id int64) error {
	query, args, err := pgDialect.Delete(tableBooks).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("postgres: build delete book: %w", err)
	}
	tag, err := ps.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBookNotFound
	}
	return nil
}

// GetPage retrieves books in id order starting at offset and the total count.
func (ps *postgresBookStorage) GetPage(ctx context.Context, offset, limit int) ([]Book, int, error) {
	countQuery, countArgs, err := pgDialect.From(tableBooks).
		Select(goqu.COUNT("*")).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: build count books: %w", err)
	}
	var total int
	if err = ps.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	books, err := ps.list(ctx, pgDialect.From(tableBooks).
		Select(bookColumns...).
		Order(goqu.C("id").Asc()).
		Offset(uint(offset)).
		Limit(uint(limit)))
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// Search retrieves books whose title contains criteria.Title ignoring
// case or whose isbn equals criteria.ISBN. Empty conditions are skipped.
func (ps *postgresBookStorage) Search(ctx context.Context, criteria SearchCriteria) ([]Book, error) {
	conditions := []goqu.Expression{}
	if criteria.Title != "" {
		conditions = append(conditions, goqu.C("title").ILike("%"+escapeLike(criteria.Title)+"%"))
	}
	if criteria.ISBN != "" {
		conditions = append(conditions, goqu.C("isbn").Eq(criteria.ISBN))
	}
	if len(conditions) == 0 {
		return []Book{}, nil
	}
	return ps.list(ctx, pgDialect.From(tableBooks).
		Select(bookColumns...).
		Where(goqu.Or(conditions...)).
		Order(goqu.C("id").Asc()))
}

// GetByCategory retrieves all books of a category.
func (ps *postgresBookStorage) GetByCategory(ctx context.Context, category Category) ([]Book, error) {
	return ps.list(ctx, pgDialect.From(tableBooks).
		Select(bookColumns...).
		Where(goqu.C("category").Eq(string(category))).
		Order(goqu.C("id").Asc()))
}

// FindConflict returns a book other than excludeID which already uses isbn or title.
func (ps *postgresBookStorage) FindConflict(ctx context.Context, isbn, title string, excludeID int64) (Book, bool, error) {
	query, args, err := pgDialect.From(tableBooks).
		Select(bookColumns...).
		Where(
			goqu.Or(goqu.C("isbn").Eq(isbn), goqu.C("title").Eq(title)),
			goqu.C("id").Neq(excludeID),
		).
		Order(goqu.C("id").Asc()).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return Book{}, false, fmt.Errorf("postgres: build conflict query: %w", err)
	}
	book, err := scanBook(ps.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Book{}, false, nil
	}
	if err != nil {
		return Book{}, false, err
	}
	return book, true, nil
}

func (ps *postgresBookStorage) list(ctx context.Context, ds *goqu.SelectDataset) ([]Book, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: build books query: %w", err)
	}
	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

type postgresLedgerStorage struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
}

// NewPostgresLedgerStorage provides an instance of postgres-based borrow ledger.
func NewPostgresLedgerStorage(logger *zap.Logger, pool *pgxpool.Pool) LedgerStorage {
	return &postgresLedgerStorage{logger: logger, pool: pool}
}

// Open inserts an outstanding record. The partial unique index on
// outstanding records rejects a second borrow of the same book.
func (pl *postgresLedgerStorage) Open(ctx context.Context, record BorrowRecord) (BorrowRecord, error) {
	query, args, err := pgDialect.Insert(tableBorrows).
		Rows(goqu.Record{
			"book_id":     record.BookID,
			"user_id":     record.UserID,
			"borrowed_at": record.BorrowedAt,
		}).
		Returning(borrowColumns...).
		Prepared(true).ToSQL()
	if err != nil {
		return BorrowRecord{}, fmt.Errorf("postgres: build insert record: %w", err)
	}
	created, err := scanRecord(pl.pool.QueryRow(ctx, query, args...))
	if err != nil {
		code, constraint := pgErrorCode(err)
		switch {
		case code == pgUniqueViolation && constraint == outstandingConstraint:
			return BorrowRecord{}, ErrBookBorrowed
		case code == pgForeignKeyViolation:
			return BorrowRecord{}, ErrBookNotFound
		}
		return BorrowRecord{}, err
	}
	return created, nil
}

// GetOutstanding returns the open record of a book or ErrNoOutstanding.
func (pl *postgresLedgerStorage) GetOutstanding(ctx context.Context, bookID int64) (BorrowRecord, error) {
	query, args, err := pgDialect.From(tableBorrows).
		Select(borrowColumns...).
		Where(goqu.C("book_id").Eq(bookID), goqu.C("returned_at").IsNull()).
		Prepared(true).ToSQL()
	if err != nil {
		return BorrowRecord{}, fmt.Errorf("postgres: build outstanding query: %w", err)
	}
	record, err := scanRecord(pl.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return BorrowRecord{}, ErrNoOutstanding
	}
	return record, err
}

// Close sets the return time of a record only if it is still outstanding.
func (pl *postgresLedgerStorage) Close(ctx context.Context, recordID int64, returnedAt time.Time) (BorrowRecord, error) {
	query, args, err := pgDialect.Update(tableBorrows).
		Set(goqu.Record{"returned_at": returnedAt}).
		Where(goqu.C("id").Eq(recordID), goqu.C("returned_at").IsNull()).
		Returning(borrowColumns...).
		Prepared(true).ToSQL()
	if err != nil {
		return BorrowRecord{}, fmt.Errorf("postgres: build close record: %w", err)
	}
	record, err := scanRecord(pl.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return BorrowRecord{}, err
	}

	// nothing updated: tell a missing record from an already closed one.
	query, args, err = pgDialect.From(tableBorrows).
		Select(goqu.COUNT("*")).
		Where(goqu.C("id").Eq(recordID)).
		Prepared(true).ToSQL()
	if err != nil {
		return BorrowRecord{}, fmt.Errorf("postgres: build record lookup: %w", err)
	}
	var count int64
	if err = pl.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return BorrowRecord{}, err
	}
	if count == 0 {
		return BorrowRecord{}, ErrBorrowNotFound
	}
	return BorrowRecord{}, ErrBookNotBorrowed
}

// ListByBook retrieves all records of a book ordered by borrow time.
func (pl *postgresLedgerStorage) ListByBook(ctx context.Context, bookID int64) ([]BorrowRecord, error) {
	query, args, err := pgDialect.From(tableBorrows).
		Select(borrowColumns...).
		Where(goqu.C("book_id").Eq(bookID)).
		Order(goqu.C("borrowed_at").Asc(), goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: build records query: %w", err)
	}
	rows, err := pl.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []BorrowRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
