package replication

import (
	"errors"
	"fmt"
)

// ErrLZFCorrupt indicates LZF input that does not decode to the declared length
var ErrLZFCorrupt = errors.New("corrupt LZF data")

// lzfDecompress expands an LZF block as written by Redis into exactly
// uncompressedLen bytes.
//
// A control byte below 32 starts a literal run of ctrl+1 bytes. Otherwise the
// top three bits hold a match length (7 means an extra length byte follows)
// and the low five bits plus the next byte hold a back-reference offset.
func lzfDecompress(in []byte, uncompressedLen int) ([]byte, error) {
	out := make([]byte, 0, uncompressedLen)
	i := 0

	for i < len(in) {
		ctrl := int(in[i])
		i++

		if ctrl < 32 {
			n := ctrl + 1
			if i+n > len(in) {
				return nil, fmt.Errorf("%w: literal run past end of input", ErrLZFCorrupt)
			}
			if len(out)+n > uncompressedLen {
				return nil, fmt.Errorf("%w: output overflow", ErrLZFCorrupt)
			}
			out = append(out, in[i:i+n]...)
			i += n
			continue
		}

		length := ctrl >> 5
		if length == 7 {
			if i >= len(in) {
				return nil, fmt.Errorf("%w: missing extended length", ErrLZFCorrupt)
			}
			length += int(in[i])
			i++
		}
		length += 2

		if i >= len(in) {
			return nil, fmt.Errorf("%w: missing offset", ErrLZFCorrupt)
		}
		ref := len(out) - ((ctrl&0x1F)<<8 + int(in[i])) - 1
		i++

		if ref < 0 {
			return nil, fmt.Errorf("%w: back reference before start", ErrLZFCorrupt)
		}
		if len(out)+length > uncompressedLen {
			return nil, fmt.Errorf("%w: output overflow", ErrLZFCorrupt)
		}

		// byte by byte: the match may overlap the bytes it produces
		for j := 0; j < length; j++ {
			out = append(out, out[ref+j])
		}
	}

	if len(out) != uncompressedLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrLZFCorrupt, uncompressedLen, len(out))
	}

	return out, nil
}
