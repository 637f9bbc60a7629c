// Package domain contains the core business entities for Alexander Library.
// These are pure Go structs with no external dependencies, representing
// the fundamental concepts of the circulation system.
package domain

import (
	"strings"
	"time"
)

// Book represents a catalog title and its copy counts.
// AvailableCopies is only changed by issue and return.
type Book struct {
	// ID is the unique, immutable catalog identifier (e.g. "b001").
	ID string `json:"id"`

	// Title is the book title.
	Title string `json:"title"`

	// Author is the book author.
	Author string `json:"author"`

	// TotalCopies is the number of copies the library owns.
	TotalCopies int `json:"totalCopies"`

	// AvailableCopies is the number of copies on the shelf.
	// Constraint: 0 <= AvailableCopies <= TotalCopies.
	AvailableCopies int `json:"availableCopies"`

	// CreatedAt is the timestamp when the book was added to the catalog.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp of the last availability change.
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewBook creates a new Book with every copy available.
func NewBook(id, title, author string, copies int) *Book {
	now := time.Now().UTC()
	return &Book{
		ID:              strings.TrimSpace(id),
		Title:           strings.TrimSpace(title),
		Author:          strings.TrimSpace(author),
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks required fields and copy bounds.
func (b *Book) Validate() error {
	if b.ID == "" {
		return NewDomainError(ErrInvalidBook, "id is required", "")
	}
	if b.Title == "" {
		return NewDomainError(ErrInvalidBook, "title is required", b.ID)
	}
	if b.Author == "" {
		return NewDomainError(ErrInvalidBook, "author is required", b.ID)
	}
	if b.TotalCopies < 0 {
		return NewDomainError(ErrInvalidBook, "total copies must not be negative", b.ID)
	}
	if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		return NewDomainError(ErrInvalidBook, "available copies out of range", b.ID)
	}
	return nil
}

// CanAdjust reports whether applying delta keeps availability within bounds.
func (b *Book) CanAdjust(delta int) bool {
	next := b.AvailableCopies + delta
	return next >= 0 && next <= b.TotalCopies
}

// IssuedCopies returns the number of copies currently checked out.
func (b *Book) IssuedCopies() int {
	return b.TotalCopies - b.AvailableCopies
}

// Matches reports whether the title or author contains q, ignoring case.
func (b *Book) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.Title), q) ||
		strings.Contains(strings.ToLower(b.Author), q)
}
