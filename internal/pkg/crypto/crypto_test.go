package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLibraryID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateLibraryID()
		require.NoError(t, err)
		assert.Len(t, id, 11)
		assert.True(t, IsLibraryID(id), id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestIsLibraryID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"LIB7Q2K9XMA", true},
		{"LIB7q2K9XMA", false},
		{"LIB7Q2K9XM", false},
		{"XYZ7Q2K9XMA", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLibraryID(tt.in), tt.in)
	}
}

func TestSHA256(t *testing.T) {
	data := []byte("library snapshot")
	sum := ComputeSHA256(data)
	assert.True(t, ValidateSHA256(sum))

	streamSum, size, err := ComputeStreamSHA256(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, sum, streamSum)
	assert.Equal(t, int64(len(data)), size)

	assert.False(t, ValidateSHA256("xyz"))
}
