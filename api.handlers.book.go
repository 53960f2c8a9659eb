package main

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// CreateBook adds a new book to the catalog.
func (api *APIHandler) CreateBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req CreateBookRequest
	if err := DecodeRequestBody(r, &req); err != nil {
		api.fail(w, r, http.StatusBadRequest, "failed to create the book", "invalid request body", err)
		return
	}
	if reasons := api.validator.Validate(req); reasons != nil {
		api.fail(w, r, http.StatusBadRequest, "failed to create the book", reasons, ErrInvalidArgument)
		return
	}

	book, err := api.catalogService.Create(r.Context(), req.ToBook())
	if err != nil {
		api.failWith(w, r, "failed to create the book", err)
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to create book", zap.Int64("book.id", book.ID))
	api.succeed(w, r, http.StatusCreated, "Book created successfully.", nil, book)
}

// ListBooks serves one page of the catalog. Missing page and limit
// query parameters fall back to the configured defaults.
//
//nolint:bodyclose
func (api *APIHandler) ListBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(api.config.Server.LongRequestWriteTimeout)); err != nil {
		logger.Debug("http: failed to update the write deadline", zap.Error(err))
	}

	page, err := ParsePositiveQuery(r, "page", api.config.Pagination.Page)
	if err != nil {
		api.failWith(w, r, "failed to list books", err)
		return
	}
	limit, err := ParsePositiveQuery(r, "limit", api.config.Pagination.Limit)
	if err != nil {
		api.failWith(w, r, "failed to list books", err)
		return
	}

	result, err := api.catalogService.List(r.Context(), page, limit)
	if err != nil {
		api.failWith(w, r, "failed to list books", err)
		return
	}
	api.succeed(w, r, http.StatusOK, "Books fetched successfully.", &result.Total, result)
}

// GetOneBook serves a single book.
func (api *APIHandler) GetOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}
	book, err := api.catalogService.Get(r.Context(), id)
	if err != nil {
		api.failWith(w, r, "failed to get the book", err)
		return
	}
	api.succeed(w, r, http.StatusOK, "Book fetched successfully.", nil, book)
}

// UpdateBook applies a partial update to an existing book.
func (api *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}

	var req UpdateBookRequest
	if err = DecodeRequestBody(r, &req); err != nil {
		api.fail(w, r, http.StatusBadRequest, "failed to update the book", "invalid request body", err)
		return
	}
	if reasons := api.validator.Validate(req); reasons != nil {
		api.fail(w, r, http.StatusBadRequest, "failed to update the book", reasons, ErrInvalidArgument)
		return
	}

	book, err := api.catalogService.Update(r.Context(), id, req.ToPatch())
	if err != nil {
		api.failWith(w, r, "failed to update the book", err)
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to update book", zap.Int64("book.id", id))
	api.succeed(w, r, http.StatusOK, "Book updated successfully.", nil, book)
}

// DeleteOneBook removes a book and its borrow history.
func (api *APIHandler) DeleteOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}
	if err = api.catalogService.Delete(r.Context(), id); err != nil {
		api.failWith(w, r, "failed to delete the book", err)
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to delete book", zap.Int64("book.id", id))
	api.succeed(w, r, http.StatusOK, "Book deleted successfully.", nil, map[string]bool{"success": true})
}

// SearchBooks finds books by title substring or exact isbn.
func (api *APIHandler) SearchBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	books, err := api.catalogService.Search(r.Context(), SearchCriteria{Title: q.Get("title"), ISBN: q.Get("isbn")})
	if err != nil {
		api.failWith(w, r, "failed to search books", err)
		return
	}
	total := len(books)
	api.succeed(w, r, http.StatusOK, "Books searched successfully.", &total, books)
}

// SearchBooksByCategory lists the books of one category.
func (api *APIHandler) SearchBooksByCategory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	category := r.URL.Query().Get("category")
	if category == "" {
		api.fail(w, r, http.StatusBadRequest, "failed to search books by category", []string{"category is required"}, ErrInvalidArgument)
		return
	}
	books, err := api.catalogService.SearchByCategory(r.Context(), category)
	if err != nil {
		api.failWith(w, r, "failed to search books by category", err)
		return
	}
	total := len(books)
	api.succeed(w, r, http.StatusOK, "Books searched successfully.", &total, books)
}
