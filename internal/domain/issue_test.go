package domain

import (
	"errors"
	"testing"
	"time"
)

func TestIssueRecord_Status(t *testing.T) {
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := NewIssueRecord("LIB1", "b001", issued, DefaultLoanPeriod)

	if got := rec.DueDate.Sub(rec.IssueDate); got != 14*24*time.Hour {
		t.Fatalf("expected 14 day loan, got %v", got)
	}

	tests := []struct {
		name string
		now  time.Time
		want IssueStatus
	}{
		{"same day", issued.Add(time.Hour), IssueStatusActive},
		{"on due date", rec.DueDate, IssueStatusActive},
		{"after due date", rec.DueDate.Add(time.Second), IssueStatusOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.Status(tt.now); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	rec.Close(rec.DueDate.Add(48 * time.Hour))
	if rec.IsOpen() {
		t.Error("expected closed record")
	}
	if rec.IsOverdue(rec.DueDate.Add(72 * time.Hour)) {
		t.Error("closed record must not be overdue")
	}
	if got := rec.Status(time.Now()); got != IssueStatusReturned {
		t.Errorf("expected returned, got %s", got)
	}
}

func TestBook_CanAdjust(t *testing.T) {
	b := NewBook("b001", "The Great Gatsby", "F. Scott Fitzgerald", 1)

	if !b.CanAdjust(-1) {
		t.Error("expected decrement from 1 to be allowed")
	}
	if b.CanAdjust(1) {
		t.Error("expected increment past total to be refused")
	}

	b.AvailableCopies = 0
	if b.CanAdjust(-1) {
		t.Error("expected decrement below zero to be refused")
	}
	if b.IssuedCopies() != 1 {
		t.Errorf("expected 1 issued copy, got %d", b.IssuedCopies())
	}
}

func TestBook_Validate(t *testing.T) {
	tests := []struct {
		name    string
		book    *Book
		wantErr bool
	}{
		{"valid", NewBook("b100", "Dune", "Frank Herbert", 2), false},
		{"zero copies", NewBook("b101", "Dune", "Frank Herbert", 0), false},
		{"missing id", NewBook(" ", "Dune", "Frank Herbert", 2), true},
		{"missing title", NewBook("b102", "", "Frank Herbert", 2), true},
		{"missing author", NewBook("b103", "Dune", "", 2), true},
		{"negative copies", NewBook("b104", "Dune", "Frank Herbert", -1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.book.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidBook) {
					t.Errorf("expected ErrInvalidBook, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBook_Matches(t *testing.T) {
	b := NewBook("b008", "Animal Farm", "George Orwell", 5)

	for _, q := range []string{"", "animal", "FARM", "orwell", " george "} {
		if !b.Matches(q) {
			t.Errorf("expected %q to match", q)
		}
	}
	if b.Matches("huxley") {
		t.Error("expected huxley not to match")
	}
}

func TestInitialCatalog(t *testing.T) {
	books := InitialCatalog()
	if len(books) != 10 {
		t.Fatalf("expected 10 seed books, got %d", len(books))
	}
	if books[0].ID != "b001" || books[0].TotalCopies != 1 {
		t.Errorf("unexpected first seed book: %+v", books[0])
	}
	for _, b := range books {
		if err := b.Validate(); err != nil {
			t.Errorf("seed book %s invalid: %v", b.ID, err)
		}
	}

	// Each call returns independent values.
	books[0].AvailableCopies = 0
	if InitialCatalog()[0].AvailableCopies != 1 {
		t.Error("expected fresh seed books on each call")
	}
}
