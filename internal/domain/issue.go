package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxIssued is the number of copies a reader may hold at once.
const DefaultMaxIssued = 4

// DefaultLoanPeriod is the time between issue and due date.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// IssueStatus is the derived state of an issue record.
type IssueStatus string

const (
	// IssueStatusActive means the copy is out and not yet due.
	IssueStatusActive IssueStatus = "active"

	// IssueStatusOverdue means the copy is out past its due date.
	IssueStatusOverdue IssueStatus = "overdue"

	// IssueStatusReturned means the copy has come back.
	IssueStatusReturned IssueStatus = "returned"
)

// IssueRecord tracks one copy of a book checked out to a reader.
// A record is open while ReturnedAt is nil. Closed records are kept for history.
type IssueRecord struct {
	// ID is the generated record identifier.
	ID uuid.UUID `json:"id"`

	// BookID references Book.ID.
	BookID string `json:"bookId"`

	// UserID is the reader's library ID.
	UserID string `json:"userId"`

	// IssueDate is when the copy was checked out.
	IssueDate time.Time `json:"issueDate"`

	// DueDate is when the copy should be back.
	DueDate time.Time `json:"dueDate"`

	// ReturnedAt is set when the copy is returned.
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
}

// NewIssueRecord creates an open record issued at now and due after loanPeriod.
func NewIssueRecord(userID, bookID string, now time.Time, loanPeriod time.Duration) *IssueRecord {
	now = now.UTC()
	return &IssueRecord{
		ID:        uuid.New(),
		BookID:    bookID,
		UserID:    userID,
		IssueDate: now,
		DueDate:   now.Add(loanPeriod),
	}
}

// IsOpen returns true if the copy has not been returned.
func (r *IssueRecord) IsOpen() bool {
	return r.ReturnedAt == nil
}

// IsOverdue returns true if the record is open and past its due date.
func (r *IssueRecord) IsOverdue(now time.Time) bool {
	return r.IsOpen() && r.DueDate.Before(now)
}

// Status derives the record state at now.
func (r *IssueRecord) Status(now time.Time) IssueStatus {
	switch {
	case !r.IsOpen():
		return IssueStatusReturned
	case r.IsOverdue(now):
		return IssueStatusOverdue
	default:
		return IssueStatusActive
	}
}

// Close marks the record returned at the given time.
func (r *IssueRecord) Close(at time.Time) {
	at = at.UTC()
	r.ReturnedAt = &at
}
