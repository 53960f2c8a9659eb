package main

import (
	"strings"

	"github.com/gofrs/uuid"
)

var _ UIDHandler = (*IDsHandler)(nil) // ensure IDsHandler implements UIDHandler.

// UIDHandler is an interface for getting and checking a uid.
type UIDHandler interface {
	Generate(prefix string) string
	IsValid(id string, prefix string) bool
}

// IDsHandler implements the UIDHandler interface.
type IDsHandler struct{}

// NewIDsHandler returns a ready to use IDsHandler.
func NewIDsHandler() *IDsHandler {
	return &IDsHandler{}
}

// Generate provides a random unique identifier.
func (idh *IDsHandler) Generate(prefix string) string {
	id, _ := uuid.NewV4()
	return prefix + ":" + id.String()
}

// IsValid checks if a given string is a valid uuid after removal of custom prefix.
func (idh *IDsHandler) IsValid(id, prefix string) bool {
	raw, ok := strings.CutPrefix(id, prefix+":")
	if !ok {
		return false
	}
	return uuid.FromStringOrNil(raw) != uuid.Nil
}
