package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidBookID = fmt.Errorf("%w: book id must be a positive integer", ErrInvalidArgument)

// CreateBookRequest is the expected payload of a book creation.
type CreateBookRequest struct {
	Title         string   `json:"title" validate:"required,max=255"`
	Author        string   `json:"author" validate:"required,max=255"`
	ISBN          string   `json:"isbn" validate:"required,max=32"`
	Price         *float64 `json:"price" validate:"required,gte=0"`
	Category      string   `json:"category" validate:"required,category"`
	PublishedYear *int     `json:"publishedYear" validate:"required,gte=0,lte=9999"`
}

// ToBook converts a validated request into a Book.
func (req CreateBookRequest) ToBook() Book {
	c, _ := ParseCategory(req.Category)
	return Book{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Price:         *req.Price,
		Category:      c,
		PublishedYear: *req.PublishedYear,
	}
}

// UpdateBookRequest is the expected payload of a partial book update.
type UpdateBookRequest struct {
	Title         *string  `json:"title" validate:"omitempty,min=1,max=255"`
	Author        *string  `json:"author" validate:"omitempty,min=1,max=255"`
	ISBN          *string  `json:"isbn" validate:"omitempty,min=1,max=32"`
	Price         *float64 `json:"price" validate:"omitempty,gte=0"`
	Category      *string  `json:"category" validate:"omitempty,category"`
	PublishedYear *int     `json:"publishedYear" validate:"omitempty,gte=0,lte=9999"`
}

// ToPatch converts a validated request into a BookPatch.
func (req UpdateBookRequest) ToPatch() BookPatch {
	return BookPatch{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Price:         req.Price,
		Category:      req.Category,
		PublishedYear: req.PublishedYear,
	}
}

// RequestValidator checks request payloads against their `validate` tags.
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator returns a validator which reports fields by their json name.
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, ok := ParseCategory(fl.Field().String())
		return ok
	})
	return &RequestValidator{v: v}
}

// Validate returns nil or the list of human readable field errors.
func (rv *RequestValidator) Validate(payload interface{}) []string {
	err := rv.v.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, describeFieldError(fe))
	}
	return messages
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must contain at most %s characters", fe.Field(), fe.Param())
	case "category":
		names := make([]string, 0, len(Categories))
		for _, c := range Categories {
			names = append(names, string(c))
		}
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), strings.Join(names, ", "))
	}
	return fe.Field() + " is invalid"
}

// DecodeRequestBody reads a json payload and rejects unknown fields.
func DecodeRequestBody(r *http.Request, payload interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is empty")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(payload)
}

// ParseBookID converts a path parameter into a book id.
func ParseBookID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidBookID
	}
	return id, nil
}

// ParsePositiveQuery returns the integer value of a query parameter or
// fallback when it is absent. Present but malformed values are rejected.
func ParsePositiveQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidArgument, name)
	}
	return v, nil
}
