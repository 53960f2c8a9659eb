package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// BorrowBook checks a book out to the caller.
func (api *APIHandler) BorrowBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}
	identity, _ := GetIdentityFromContext(r.Context())

	record, err := api.lendingService.Borrow(r.Context(), id, identity.UserID)
	if err != nil {
		api.failWith(w, r, "failed to borrow the book", err)
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to borrow book", zap.Int64("book.id", id), zap.Int64("borrow.id", record.ID))
	api.succeed(w, r, http.StatusCreated, "Book borrowed successfully.", nil,
		map[string]interface{}{"borrowed": true, "borrow": record},
	)
}

// ReturnBook closes the caller's outstanding borrow of a book.
func (api *APIHandler) ReturnBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}
	identity, _ := GetIdentityFromContext(r.Context())

	record, err := api.lendingService.Return(r.Context(), id, identity.UserID)
	if err != nil {
		api.failWith(w, r, "failed to return the book", err)
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to return book", zap.Int64("book.id", id), zap.Int64("borrow.id", record.ID))
	api.succeed(w, r, http.StatusOK, "Book returned successfully.", nil,
		map[string]interface{}{"returned": true, "borrow": record},
	)
}

// GetBookBorrows serves the whole borrow ledger of a book.
func (api *APIHandler) GetBookBorrows(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}
	history, err := api.lendingService.History(r.Context(), id)
	if err != nil {
		api.failWith(w, r, "failed to get the book borrows", err)
		return
	}
	total := len(history.Borrows)
	api.succeed(w, r, http.StatusOK, "Book borrows fetched successfully.", &total, history)
}

// GetBookBorrower tells who currently holds a book.
func (api *APIHandler) GetBookBorrower(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}
	userID, borrowed, err := api.lendingService.CurrentBorrower(r.Context(), id)
	if err != nil {
		api.failWith(w, r, "failed to get the book borrower", err)
		return
	}
	data := map[string]interface{}{"bookId": id, "borrowed": borrowed, "userId": nil}
	if borrowed {
		data["userId"] = userID
	}
	api.succeed(w, r, http.StatusOK, "Book borrower fetched successfully.", nil, data)
}

// GetBookJournal serves the recorded events of a book, oldest first.
// The optional `limit` query parameter keeps only the latest events.
func (api *APIHandler) GetBookJournal(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.fail(w, r, http.StatusBadRequest, "book id provided is not valid", ErrorReason(err), err)
		return
	}
	limit, err := ParsePositiveQuery(r, "limit", 0)
	if err != nil {
		api.failWith(w, r, "failed to get the book journal", err)
		return
	}
	events, err := api.journal.List(r.Context(), id, limit)
	if err != nil {
		api.failWith(w, r, "failed to get the book journal", err)
		return
	}
	total := len(events)
	api.succeed(w, r, http.StatusOK, "Book journal fetched successfully.", &total, events)
}
