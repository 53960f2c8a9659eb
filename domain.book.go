package main

import (
	"context"
	"strings"
	"time"
)

// Category is one of the fixed set of book categories.
type Category string

const (
	CategoryHorror  Category = "horror"
	CategoryFiction Category = "fiction"
	CategoryRomance Category = "romance"
)

// Categories lists every accepted category.
var Categories = []Category{CategoryHorror, CategoryFiction, CategoryRomance}

// ParseCategory normalizes a raw category value and reports whether it belongs to the set.
func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return c, false
}

// Book represents a book entity.
type Book struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	ISBN          string    `json:"isbn"`
	Price         float64   `json:"price"`
	Category      Category  `json:"category"`
	PublishedYear int       `json:"publishedYear"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BookPatch carries the fields of a partial book update. Nil means unchanged.
type BookPatch struct {
	Title         *string
	Author        *string
	ISBN          *string
	Price         *float64
	Category      *string
	PublishedYear *int
}

// IsEmpty reports whether the patch changes nothing.
func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.ISBN == nil &&
		p.Price == nil && p.Category == nil && p.PublishedYear == nil
}

// Apply returns a copy of the book with the patch fields set.
func (p BookPatch) Apply(book Book) Book {
	if p.Title != nil {
		book.Title = *p.Title
	}
	if p.Author != nil {
		book.Author = *p.Author
	}
	if p.ISBN != nil {
		book.ISBN = *p.ISBN
	}
	if p.Price != nil {
		book.Price = *p.Price
	}
	if p.Category != nil {
		book.Category = Category(*p.Category)
	}
	if p.PublishedYear != nil {
		book.PublishedYear = *p.PublishedYear
	}
	return book
}

// SearchCriteria holds the optional filters of a title/ISBN search.
type SearchCriteria struct {
	Title string
	ISBN  string
}

// IsEmpty reports whether no filter was provided.
func (sc SearchCriteria) IsEmpty() bool {
	return sc.Title == "" && sc.ISBN == ""
}

// BookPage is one page of the catalog listing.
type BookPage struct {
	Books []Book `json:"books"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// BookStorage defines possible operations on book entity.
type BookStorage interface {
	Add(ctx context.Context, book Book) (Book, error)
	GetOne(ctx context.Context, id int64) (Book, error)
	Update(ctx context.Context, book Book) (Book, error)
	Delete(ctx context.Context, id int64) error
	GetPage(ctx context.Context, offset, limit int) ([]Book, int, error)
	Search(ctx context.Context, criteria SearchCriteria) ([]Book, error)
	GetByCategory(ctx context.Context, category Category) ([]Book, error)
	FindConflict(ctx context.Context, isbn, title string, excludeID int64) (Book, bool, error)
}
