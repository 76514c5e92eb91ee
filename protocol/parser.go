package protocol

import (
	"bytes"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum size for arrays
	maxArraySize = 1024 * 1024

	// maxArrayPrealloc bounds the capacity reserved from an array header
	maxArrayPrealloc = 1024
)

var (
	crlfBytes = []byte(CRLF)
)

// Parser decodes RESP frames from a byte slice using an explicit cursor.
//
// It never touches the network: callers hand it whatever bytes they have,
// whether they came from one fixed-size read or an accumulated stream.
// A failed Parse leaves the cursor where it was before the call.
type Parser struct {
	buf []byte
	pos int
}

// NewParser creates a parser positioned at the start of buf
func NewParser(buf []byte) *Parser {
	return &Parser{buf: buf}
}

// Pos returns the cursor offset into the buffer
func (p *Parser) Pos() int {
	return p.pos
}

// Remaining returns the bytes after the cursor
func (p *Parser) Remaining() []byte {
	return p.buf[p.pos:]
}

// Parse decodes the next value and advances the cursor past it
func (p *Parser) Parse() (Value, error) {
	start := p.pos
	v, err := p.parseValue()
	if err != nil {
		p.pos = start
		return Value{}, err
	}
	return v, nil
}

// ParseRaw decodes a `$<len>\r\n<bytes>` payload that has no trailing CRLF.
// This is the framing a primary uses for the snapshot after FULLRESYNC.
func (p *Parser) ParseRaw() ([]byte, error) {
	start := p.pos
	// a primary sends bare newlines as keepalives while it prepares the snapshot
	for p.pos < len(p.buf) && p.buf[p.pos] == '\n' {
		p.pos++
	}
	if p.pos >= len(p.buf) {
		p.pos = start
		return nil, incomplete(len(p.buf), "empty buffer")
	}
	if ValueType(p.buf[p.pos]) != TypeBulkString {
		bad := p.pos
		p.pos = start
		return nil, malformed(bad, "expected raw payload, got %q", p.buf[bad])
	}
	p.pos++

	length, err := p.readLength("raw payload", maxBulkSize)
	if err != nil {
		p.pos = start
		return nil, err
	}

	end := p.pos + int(length)
	if end > len(p.buf) {
		p.pos = start
		return nil, incomplete(len(p.buf), "raw payload needs %d bytes, have %d", length, len(p.buf)-p.pos)
	}

	data := make([]byte, length)
	copy(data, p.buf[p.pos:end])
	p.pos = end
	return data, nil
}

// Parse decodes one value from buf and returns it with the unconsumed rest
func Parse(buf []byte) (Value, []byte, error) {
	p := NewParser(buf)
	v, err := p.Parse()
	if err != nil {
		return Value{}, buf, err
	}
	return v, p.Remaining(), nil
}

func (p *Parser) parseValue() (Value, error) {
	if p.pos >= len(p.buf) {
		return Value{}, incomplete(p.pos, "empty buffer")
	}

	typeByte := p.buf[p.pos]
	switch ValueType(typeByte) {
	case TypeSimpleString:
		p.pos++
		return p.parseLineValue(TypeSimpleString)
	case TypeError:
		p.pos++
		return p.parseLineValue(TypeError)
	case TypeInteger:
		p.pos++
		return p.parseInteger()
	case TypeBulkString:
		p.pos++
		return p.parseBulkString()
	case TypeArray:
		return p.parseArray()
	default:
		return Value{}, malformed(p.pos, "unknown RESP type: %q (0x%02x)", typeByte, typeByte)
	}
}

// parseLineValue reads a simple string or error frame
func (p *Parser) parseLineValue(t ValueType) (Value, error) {
	line, err := p.readLine()
	if err != nil {
		return Value{}, err
	}

	data := make([]byte, len(line))
	copy(data, line)
	return Value{Type: t, Data: data}, nil
}

func (p *Parser) parseInteger() (Value, error) {
	lineStart := p.pos
	line, err := p.readLine()
	if err != nil {
		return Value{}, err
	}

	n, err := parseInt64(line)
	if err != nil {
		return Value{}, malformed(lineStart, "invalid integer: %q", line)
	}

	return Value{Type: TypeInteger, Integer: n}, nil
}

func (p *Parser) parseBulkString() (Value, error) {
	length, err := p.readLength("bulk string", maxBulkSize)
	if err != nil {
		return Value{}, err
	}

	end := p.pos + int(length)
	if end+len(crlfBytes) > len(p.buf) {
		return Value{}, incomplete(len(p.buf), "bulk string needs %d bytes, have %d", length, len(p.buf)-p.pos)
	}

	if !bytes.Equal(p.buf[end:end+len(crlfBytes)], crlfBytes) {
		return Value{}, malformed(end, "bulk string length %d does not match payload", length)
	}

	data := make([]byte, length)
	copy(data, p.buf[p.pos:end])
	p.pos = end + len(crlfBytes)

	return Value{Type: TypeBulkString, Data: data}, nil
}

// parseArray reads an array. A failure in any element rolls the cursor
// back to the array's type byte so no partial array is ever exposed.
func (p *Parser) parseArray() (Value, error) {
	start := p.pos
	p.pos++

	count, err := p.readLength("array", maxArraySize)
	if err != nil {
		p.pos = start
		return Value{}, err
	}

	// the declared count is untrusted; append grows past the cap
	array := make([]Value, 0, min(count, maxArrayPrealloc))
	for i := int64(0); i < count; i++ {
		v, err := p.parseValue()
		if err != nil {
			p.pos = start
			return Value{}, err
		}
		array = append(array, v)
	}

	return Value{Type: TypeArray, Array: array}, nil
}

// readLength reads the decimal header line of a bulk string or array
func (p *Parser) readLength(what string, max int64) (int64, error) {
	lineStart := p.pos
	line, err := p.readLine()
	if err != nil {
		return 0, err
	}

	n, err := parseInt64(line)
	if err != nil {
		return 0, malformed(lineStart, "invalid %s length: %q", what, line)
	}

	if n == -1 {
		return 0, malformed(lineStart, "null %s is not accepted", what)
	}

	if n < 0 || n > max {
		return 0, malformed(lineStart, "invalid %s length: %d", what, n)
	}

	return n, nil
}

// readLine returns the bytes up to the next CRLF and moves past it
func (p *Parser) readLine() ([]byte, error) {
	rest := p.buf[p.pos:]
	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return nil, incomplete(len(p.buf), "unterminated line")
	}

	if idx == 0 || rest[idx-1] != '\r' {
		return nil, malformed(p.pos+idx, "missing CRLF terminator")
	}

	line := rest[:idx-1]
	p.pos += idx + 1
	return line, nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		d := int64(b[i] - '0')
		if n > (1<<63-1-d)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + d
	}

	if neg {
		return -n, nil
	}
	return n, nil
}
