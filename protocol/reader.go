package protocol

import (
	"errors"
	"io"
)

const (
	// initialBufSize is the starting size of the read buffer
	initialBufSize = 4096
)

// Reader is a streaming RESP reader. It accumulates bytes from the
// underlying io.Reader and hands them to a Parser until a whole frame is
// available, so frames may arrive split across any number of reads.
type Reader struct {
	rd    io.Reader
	buf   []byte
	start int // first unread byte
	end   int // end of valid data

	scan frameScan
}

// frameScan tracks how far the pending frame has been checked for
// completeness, so each fill only looks at the new bytes
type frameScan struct {
	pos     int     // offset from start of the next unchecked element
	pending []int64 // elements still expected by each open array
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		rd:  r,
		buf: make([]byte, initialBufSize),
	}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	for {
		if r.start < r.end {
			n, err := r.frameEnd()
			if err == nil {
				p := NewParser(r.buf[r.start : r.start+n])
				v, err := p.Parse()
				if err != nil {
					return Value{}, err
				}
				r.start += n
				r.scan = frameScan{pending: r.scan.pending[:0]}
				return v, nil
			}
			if !IsIncomplete(err) {
				return Value{}, err
			}
		}

		if err := r.fill(); err != nil {
			return Value{}, err
		}
	}
}

// frameEnd returns the length of the frame at start once all of its bytes
// are buffered. It resumes where the previous call stopped and builds no
// values.
func (r *Reader) frameEnd() (int, error) {
	sc := &r.scan
	p := NewParser(r.buf[r.start:r.end])

	for {
		p.pos = sc.pos
		if p.pos >= len(p.buf) {
			return 0, incomplete(p.pos, "frame not complete")
		}

		switch ValueType(p.buf[p.pos]) {
		case TypeSimpleString, TypeError, TypeInteger:
			p.pos++
			if _, err := p.readLine(); err != nil {
				return 0, err
			}
		case TypeBulkString:
			p.pos++
			length, err := p.readLength("bulk string", maxBulkSize)
			if err != nil {
				return 0, err
			}
			if p.pos+int(length)+len(crlfBytes) > len(p.buf) {
				return 0, incomplete(len(p.buf), "bulk string needs %d bytes", length)
			}
			p.pos += int(length) + len(crlfBytes)
		case TypeArray:
			p.pos++
			count, err := p.readLength("array", maxArraySize)
			if err != nil {
				return 0, err
			}
			if count > 0 {
				sc.pending = append(sc.pending, count)
				sc.pos = p.pos
				continue
			}
		default:
			typeByte := p.buf[p.pos]
			return 0, malformed(p.pos, "unknown RESP type: %q (0x%02x)", typeByte, typeByte)
		}

		sc.pos = p.pos
		for len(sc.pending) > 0 {
			last := len(sc.pending) - 1
			sc.pending[last]--
			if sc.pending[last] > 0 {
				break
			}
			sc.pending = sc.pending[:last]
		}
		if len(sc.pending) == 0 {
			return sc.pos, nil
		}
	}
}

// ReadSnapshot reads a `$<len>\r\n<bytes>` payload with no trailing CRLF.
// It is used by a replica to consume the snapshot following FULLRESYNC.
func (r *Reader) ReadSnapshot() ([]byte, error) {
	for {
		if r.start < r.end {
			p := NewParser(r.buf[r.start:r.end])
			data, err := p.ParseRaw()
			if err == nil {
				r.start += p.Pos()
				return data, nil
			}
			if !IsIncomplete(err) {
				return nil, err
			}
		}

		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// fill reads more bytes into the buffer, compacting or growing it first
func (r *Reader) fill() error {
	if r.start > 0 {
		n := copy(r.buf, r.buf[r.start:r.end])
		r.start = 0
		r.end = n
	}

	if r.end == len(r.buf) {
		grown := make([]byte, len(r.buf)*2)
		copy(grown, r.buf[:r.end])
		r.buf = grown
	}

	for {
		n, err := r.rd.Read(r.buf[r.end:])
		r.end += n
		if n > 0 {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.end > r.start {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}
