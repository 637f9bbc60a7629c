// Package crypto provides identifier generation and checksum helpers for Alexander Library.
package crypto

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// LibraryIDPrefix starts every reader identifier.
	LibraryIDPrefix = "LIB"

	// libraryIDSuffixLength is the number of random characters after the prefix.
	libraryIDSuffixLength = 8

	// libraryIDChars contains characters used in library IDs (uppercase alphanumeric).
	libraryIDChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateLibraryID generates a reader identifier such as "LIB7Q2K9XMA".
func GenerateLibraryID() (string, error) {
	suffix, err := generateRandomString(libraryIDSuffixLength, libraryIDChars)
	if err != nil {
		return "", fmt.Errorf("failed to generate library ID: %w", err)
	}
	return LibraryIDPrefix + suffix, nil
}

// IsLibraryID reports whether s has the library ID shape.
func IsLibraryID(s string) bool {
	if len(s) != len(LibraryIDPrefix)+libraryIDSuffixLength || !strings.HasPrefix(s, LibraryIDPrefix) {
		return false
	}
	for _, c := range s[len(LibraryIDPrefix):] {
		if !strings.ContainsRune(libraryIDChars, c) {
			return false
		}
	}
	return true
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	charsetLen := len(charset)

	// Generate random bytes
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Map to charset
	for i := 0; i < length; i++ {
		result[i] = charset[int(randomBytes[i])%charsetLen]
	}

	return string(result), nil
}
