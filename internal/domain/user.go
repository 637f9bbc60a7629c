package domain

import (
	"time"
)

// User represents a registered reader.
// The library ID is the identifier used for circulation.
type User struct {
	// LibraryID is the unique reader identifier (e.g. "LIB7Q2K9XMA").
	LibraryID string `json:"libraryId"`

	// FullName is the reader's name.
	FullName string `json:"fullName"`

	// FatherName is optional.
	FatherName string `json:"fatherName,omitempty"`

	// Mobile is the unique 10-digit mobile number.
	Mobile string `json:"mobile"`

	// Email is the unique, lowercased email address used for login.
	Email string `json:"email"`

	// PasswordHash is the bcrypt hash of the password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	CollegeName      string    `json:"collegeName"`
	EnrollmentNumber string    `json:"enrollmentNumber"`
	Branch           string    `json:"branch"`
	Year             string    `json:"year,omitempty"`
	DateOfBirth      time.Time `json:"dob"`
	Gender           string    `json:"gender"`
	Address          string    `json:"address"`

	// SecurityQuestion is shown during account recovery.
	SecurityQuestion string `json:"securityQuestion"`

	// SecurityAnswerHash is the bcrypt hash of the normalised answer.
	SecurityAnswerHash string `json:"-"`

	// RegisteredAt is the timestamp when the user registered.
	RegisteredAt time.Time `json:"registeredAt"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUser creates a new User with timestamps set.
func NewUser(libraryID, fullName, email, mobile, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		LibraryID:    libraryID,
		FullName:     fullName,
		Email:        email,
		Mobile:       mobile,
		PasswordHash: passwordHash,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
}
