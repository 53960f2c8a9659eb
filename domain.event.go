package main

import (
	"time"
)

// EventType names a catalog or lending mutation.
type EventType string

const (
	EventBookCreated  EventType = "book.created"
	EventBookUpdated  EventType = "book.updated"
	EventBookDeleted  EventType = "book.deleted"
	EventBookBorrowed EventType = "book.borrowed"
	EventBookReturned EventType = "book.returned"
)

// Event is what the services push to the queues after each successful mutation.
// The journal consumer persists them as the audit trail of a book.
type Event struct {
	Sequence uint64        `json:"seq,omitempty"`
	Type     EventType     `json:"type"`
	BookID   int64         `json:"bookId"`
	UserID   string        `json:"userId,omitempty"`
	At       time.Time     `json:"at"`
	Book     *Book         `json:"book,omitempty"`
	Borrow   *BorrowRecord `json:"borrow,omitempty"`
}
