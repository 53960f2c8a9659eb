package main

import (
	"github.com/julienschmidt/httprouter"
)

// SetupBookRoutes injects catalog and lending related api endpoints.
// Every /v1 route requires an access token granting the listed action.
func (api *APIHandler) SetupBookRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router.RedirectTrailingSlash = true
	router.GET("/", m.public(api.Index))
	router.GET("/status", m.public(api.Status))

	router.POST("/v1/books", m.public(api.Grant(ActionCreateAny, ResourceBook, api.CreateBook)))
	router.GET("/v1/books", m.public(api.Grant(ActionReadAny, ResourceBook, api.ListBooks)))
	router.GET("/v1/books/:id", m.public(api.Grant(ActionReadAny, ResourceBook, api.GetOneBook)))
	router.PUT("/v1/books/:id", m.public(api.Grant(ActionUpdateAny, ResourceBook, api.UpdateBook)))
	router.PATCH("/v1/books/:id", m.public(api.Grant(ActionUpdateAny, ResourceBook, api.UpdateBook)))
	router.DELETE("/v1/books/:id", m.public(api.Grant(ActionDeleteAny, ResourceBook, api.DeleteOneBook)))

	router.POST("/v1/books/:id/borrow", m.public(api.Grant(ActionReadAny, ResourceBook, api.BorrowBook)))
	router.POST("/v1/books/:id/return", m.public(api.Grant(ActionReadAny, ResourceBook, api.ReturnBook)))
	router.GET("/v1/books/:id/borrower", m.public(api.Grant(ActionReadAny, ResourceBook, api.GetBookBorrower)))
	router.GET("/v1/books/:id/borrows", m.public(api.Grant(ActionUpdateAny, ResourceBook, api.GetBookBorrows)))
	router.GET("/v1/books/:id/journal", m.public(api.Grant(ActionUpdateAny, ResourceBook, api.GetBookJournal)))

	router.GET("/v1/search/books", m.public(api.Grant(ActionReadAny, ResourceBook, api.SearchBooks)))
	router.GET("/v1/search/categories", m.public(api.Grant(ActionReadAny, ResourceBook, api.SearchBooksByCategory)))
	return router
}
