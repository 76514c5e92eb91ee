package replication

import (
	"bytes"
	"errors"
	"testing"
)

func TestLZFDecompression(t *testing.T) {
	tests := []struct {
		name            string
		compressed      []byte
		uncompressedLen int
		expected        []byte
		shouldError     bool
	}{
		{
			name:            "empty data",
			compressed:      []byte{},
			uncompressedLen: 0,
			expected:        []byte{},
		},
		{
			name:            "simple literal",
			compressed:      []byte{0x05, 'h', 'e', 'l', 'l', 'o', '!'},
			uncompressedLen: 6,
			expected:        []byte("hello!"),
		},
		{
			name:            "overlapping back reference",
			compressed:      []byte{0x00, 'a', 0xE0, 0x00, 0x00},
			uncompressedLen: 10,
			expected:        []byte("aaaaaaaaaa"),
		},
		{
			name:            "short back reference",
			compressed:      []byte{0x02, 'a', 'b', 'c', 0x20, 0x02},
			uncompressedLen: 6,
			expected:        []byte("abcabc"),
		},
		{
			name:            "truncated literal",
			compressed:      []byte{0x05, 'h', 'e', 'l'},
			uncompressedLen: 6,
			shouldError:     true,
		},
		{
			name:            "reference before start",
			compressed:      []byte{0x20, 0x05},
			uncompressedLen: 3,
			shouldError:     true,
		},
		{
			name:            "length mismatch",
			compressed:      []byte{0x01, 'h', 'i'},
			uncompressedLen: 5,
			shouldError:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := lzfDecompress(tt.compressed, tt.uncompressedLen)

			if tt.shouldError {
				if !errors.Is(err, ErrLZFCorrupt) {
					t.Errorf("Expected ErrLZFCorrupt, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if !bytes.Equal(result, tt.expected) {
				t.Errorf("lzfDecompress() = %q, want %q", result, tt.expected)
			}
		})
	}
}
