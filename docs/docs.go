// Package docs holds the swagger definition of the library api.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/v1/books": {
            "get": {
                "summary": "List one page of books ordered by id",
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer", "minimum": 1},
                    {"name": "limit", "in": "query", "type": "integer", "minimum": 1}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/APIError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/APIError"}}
                }
            },
            "post": {
                "summary": "Create a book",
                "parameters": [
                    {"name": "book", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateBookRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/APIError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/v1/books/{id}": {
            "get": {
                "summary": "Get a book",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIError"}}
                }
            },
            "put": {
                "summary": "Update some fields of a book",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "book", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateBookRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/APIError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIError"}}
                }
            },
            "delete": {
                "summary": "Delete a book with its borrow records",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/v1/books/{id}/borrow": {
            "post": {
                "summary": "Borrow a book as the caller",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "400": {"description": "Already borrowed", "schema": {"$ref": "#/definitions/APIError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/v1/books/{id}/return": {
            "post": {
                "summary": "Return a book borrowed by the caller",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "400": {"description": "Not borrowed by the caller", "schema": {"$ref": "#/definitions/APIError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/v1/books/{id}/borrows": {
            "get": {
                "summary": "Borrow history of a book",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/v1/books/{id}/borrower": {
            "get": {
                "summary": "Current borrower of a book",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        },
        "/v1/books/{id}/journal": {
            "get": {
                "summary": "Recorded events of a book",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer", "minimum": 1}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        },
        "/v1/search/books": {
            "get": {
                "summary": "Search books by title substring or exact isbn",
                "parameters": [
                    {"name": "title", "in": "query", "type": "string"},
                    {"name": "isbn", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        },
        "/v1/search/categories": {
            "get": {
                "summary": "List the books of a category",
                "parameters": [
                    {"name": "category", "in": "query", "required": true, "type": "string", "enum": ["horror", "fiction", "romance"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/APIError"}}
                }
            }
        }
    },
    "definitions": {
        "APIResponse": {
            "type": "object",
            "properties": {
                "requestid": {"type": "string"},
                "status": {"type": "integer"},
                "message": {"type": "string"},
                "total": {"type": "integer"},
                "data": {}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "requestid": {"type": "string"},
                "status": {"type": "integer"},
                "message": {"type": "string"},
                "data": {}
            }
        },
        "CreateBookRequest": {
            "type": "object",
            "required": ["title", "author", "isbn", "price", "category", "publishedYear"],
            "properties": {
                "title": {"type": "string"},
                "author": {"type": "string"},
                "isbn": {"type": "string"},
                "price": {"type": "number", "minimum": 0},
                "category": {"type": "string", "enum": ["horror", "fiction", "romance"]},
                "publishedYear": {"type": "integer", "minimum": 0}
            }
        },
        "UpdateBookRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "author": {"type": "string"},
                "isbn": {"type": "string"},
                "price": {"type": "number", "minimum": 0},
                "category": {"type": "string", "enum": ["horror", "fiction", "romance"]},
                "publishedYear": {"type": "integer", "minimum": 0}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Library API",
	Description:      "Book catalog and lending service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
