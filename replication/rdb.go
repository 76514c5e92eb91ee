package replication

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// RDB format constants
const (
	MaxSupportedRDBVersion = 12

	rdbOpcodeFunction2 = 0xF5
	rdbOpcodeModuleAux = 0xF7
	rdbOpcodeIdle      = 0xF8
	rdbOpcodeFreq      = 0xF9
	rdbOpcodeAux       = 0xFA
	rdbOpcodeResizeDB  = 0xFB
	rdbOpcodeExpiryMs  = 0xFC
	rdbOpcodeExpiry    = 0xFD
	rdbOpcodeDB        = 0xFE
	rdbOpcodeEOF       = 0xFF

	rdbTypeString         = 0
	rdbTypeList           = 1
	rdbTypeSet            = 2
	rdbTypeZSet           = 3
	rdbTypeHash           = 4
	rdbTypeZSet2          = 5
	rdbTypeHashZipmap     = 9
	rdbTypeListZiplist    = 10
	rdbTypeSetIntset      = 11
	rdbTypeZSetZiplist    = 12
	rdbTypeHashZiplist    = 13
	rdbTypeListQuicklist  = 14
	rdbTypeHashListpack   = 16
	rdbTypeZSetListpack   = 17
	rdbTypeListQuicklist2 = 18
	rdbTypeSetListpack    = 20

	// maxRDBString bounds a single string allocation
	maxRDBString = 512 * 1024 * 1024
)

var (
	// ErrInvalidRDB indicates a snapshot that is not an RDB file
	ErrInvalidRDB = errors.New("invalid RDB")

	// ErrUnsupportedRDBType indicates a value type the loader cannot skip
	ErrUnsupportedRDBType = errors.New("unsupported RDB value type")
)

// RDBHandler receives the contents of an RDB stream.
// Only string values are delivered; other types are skipped.
type RDBHandler interface {
	// OnDatabase is called on a SELECTDB opcode
	OnDatabase(index int) error

	// OnKey is called for each string key. expiry is nil for keys without a TTL.
	OnKey(key, value []byte, expiry *time.Time) error

	// OnAux is called for each auxiliary field
	OnAux(key, value []byte) error

	// OnEnd is called once at the EOF opcode
	OnEnd() error
}

// RDBParser reads an RDB stream and reports its contents to a handler
type RDBParser struct {
	br      *bufio.Reader
	handler RDBHandler
	version int
	skipped int
}

// NewRDBParser creates a new RDB parser
func NewRDBParser(r io.Reader, handler RDBHandler) *RDBParser {
	return &RDBParser{
		br:      bufio.NewReader(r),
		handler: handler,
	}
}

// Version returns the RDB version read from the header
func (p *RDBParser) Version() int {
	return p.version
}

// Skipped returns how many non-string values were skipped
func (p *RDBParser) Skipped() int {
	return p.skipped
}

// Parse reads the whole stream up to and including the EOF opcode.
// The trailing checksum is not verified.
func (p *RDBParser) Parse() error {
	if err := p.readHeader(); err != nil {
		return err
	}

	var expiry *time.Time

	for {
		opcode, err := p.br.ReadByte()
		if err != nil {
			return fmt.Errorf("read opcode: %w", unexpectedEOF(err))
		}

		switch opcode {
		case rdbOpcodeEOF:
			return p.handler.OnEnd()

		case rdbOpcodeDB:
			db, err := p.readLength()
			if err != nil {
				return fmt.Errorf("read database number: %w", err)
			}
			if err := p.handler.OnDatabase(int(db)); err != nil {
				return err
			}

		case rdbOpcodeExpiry:
			var seconds uint32
			if err := binary.Read(p.br, binary.LittleEndian, &seconds); err != nil {
				return fmt.Errorf("read expiry: %w", unexpectedEOF(err))
			}
			t := time.Unix(int64(seconds), 0)
			expiry = &t

		case rdbOpcodeExpiryMs:
			var millis uint64
			if err := binary.Read(p.br, binary.LittleEndian, &millis); err != nil {
				return fmt.Errorf("read expiry: %w", unexpectedEOF(err))
			}
			t := time.UnixMilli(int64(millis))
			expiry = &t

		case rdbOpcodeResizeDB:
			if _, err := p.readLength(); err != nil {
				return fmt.Errorf("read db size: %w", err)
			}
			if _, err := p.readLength(); err != nil {
				return fmt.Errorf("read expires size: %w", err)
			}

		case rdbOpcodeAux:
			key, err := p.readString()
			if err != nil {
				return fmt.Errorf("read aux key: %w", err)
			}
			value, err := p.readString()
			if err != nil {
				return fmt.Errorf("read aux value for %s: %w", key, err)
			}
			if err := p.handler.OnAux(key, value); err != nil {
				return err
			}

		case rdbOpcodeIdle:
			if _, err := p.readLength(); err != nil {
				return fmt.Errorf("read idle: %w", err)
			}

		case rdbOpcodeFreq:
			if _, err := p.br.ReadByte(); err != nil {
				return fmt.Errorf("read freq: %w", unexpectedEOF(err))
			}

		case rdbOpcodeFunction2:
			if _, err := p.readString(); err != nil {
				return fmt.Errorf("read function: %w", err)
			}

		case rdbOpcodeModuleAux:
			return fmt.Errorf("%w: module aux data", ErrUnsupportedRDBType)

		default:
			if err := p.readKeyValue(opcode, expiry); err != nil {
				return err
			}
			expiry = nil
		}
	}
}

func (p *RDBParser) readHeader() error {
	header := make([]byte, 9)
	if _, err := io.ReadFull(p.br, header); err != nil {
		return fmt.Errorf("%w: read header: %v", ErrInvalidRDB, err)
	}

	if string(header[:5]) != "REDIS" {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidRDB, header[:5])
	}

	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return fmt.Errorf("%w: bad version %q", ErrInvalidRDB, header[5:])
	}
	if version > MaxSupportedRDBVersion {
		return fmt.Errorf("%w: version %d (max supported: %d)", ErrInvalidRDB, version, MaxSupportedRDBVersion)
	}

	p.version = version
	return nil
}

func (p *RDBParser) readKeyValue(valueType byte, expiry *time.Time) error {
	key, err := p.readString()
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}

	if valueType != rdbTypeString {
		if err := p.skipValue(valueType); err != nil {
			return fmt.Errorf("skip value for key %s: %w", key, err)
		}
		p.skipped++
		return nil
	}

	value, err := p.readString()
	if err != nil {
		return fmt.Errorf("read value for key %s: %w", key, err)
	}

	return p.handler.OnKey(key, value, expiry)
}

// skipValue consumes a non-string value without decoding it
func (p *RDBParser) skipValue(valueType byte) error {
	switch valueType {
	case rdbTypeList, rdbTypeSet, rdbTypeListQuicklist:
		return p.skipStrings(1)

	case rdbTypeHash:
		return p.skipStrings(2)

	case rdbTypeZSet:
		n, err := p.readLength()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if _, err := p.readString(); err != nil {
				return err
			}
			score, err := p.br.ReadByte()
			if err != nil {
				return unexpectedEOF(err)
			}
			// 253-255 are nan/+inf/-inf with no payload
			if score < 253 {
				if _, err := p.br.Discard(int(score)); err != nil {
					return unexpectedEOF(err)
				}
			}
		}
		return nil

	case rdbTypeZSet2:
		n, err := p.readLength()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if _, err := p.readString(); err != nil {
				return err
			}
			if _, err := p.br.Discard(8); err != nil {
				return unexpectedEOF(err)
			}
		}
		return nil

	case rdbTypeHashZipmap, rdbTypeListZiplist, rdbTypeSetIntset, rdbTypeZSetZiplist,
		rdbTypeHashZiplist, rdbTypeHashListpack, rdbTypeZSetListpack, rdbTypeSetListpack:
		_, err := p.readString()
		return err

	case rdbTypeListQuicklist2:
		n, err := p.readLength()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if _, err := p.readLength(); err != nil {
				return err
			}
			if _, err := p.readString(); err != nil {
				return err
			}
		}
		return nil

	default:
		// modules and streams
		return fmt.Errorf("%w: %d", ErrUnsupportedRDBType, valueType)
	}
}

// skipStrings reads a length n and discards n*per strings
func (p *RDBParser) skipStrings(per uint64) error {
	n, err := p.readLength()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n*per; i++ {
		if _, err := p.readString(); err != nil {
			return err
		}
	}
	return nil
}

// readLength reads a length-encoded integer
func (p *RDBParser) readLength() (uint64, error) {
	n, special, err := p.readLengthOrEncoding()
	if err != nil {
		return 0, err
	}
	if special {
		return 0, fmt.Errorf("unexpected special encoding %d where a length was expected", n)
	}
	return n, nil
}

// readLengthOrEncoding reads a length prefix. When the top two bits are 11
// the remaining six bits name a special string encoding instead.
func (p *RDBParser) readLengthOrEncoding() (uint64, bool, error) {
	b, err := p.br.ReadByte()
	if err != nil {
		return 0, false, unexpectedEOF(err)
	}

	switch (b & 0xC0) >> 6 {
	case 0:
		return uint64(b & 0x3F), false, nil

	case 1:
		b2, err := p.br.ReadByte()
		if err != nil {
			return 0, false, unexpectedEOF(err)
		}
		return uint64(b&0x3F)<<8 | uint64(b2), false, nil

	case 2:
		switch b {
		case 0x80:
			var length uint32
			if err := binary.Read(p.br, binary.BigEndian, &length); err != nil {
				return 0, false, unexpectedEOF(err)
			}
			return uint64(length), false, nil
		case 0x81:
			var length uint64
			if err := binary.Read(p.br, binary.BigEndian, &length); err != nil {
				return 0, false, unexpectedEOF(err)
			}
			return length, false, nil
		default:
			return 0, false, fmt.Errorf("invalid length prefix 0x%02x", b)
		}

	default:
		return uint64(b & 0x3F), true, nil
	}
}

// readString reads a string in any of its encodings: raw, integer or LZF
func (p *RDBParser) readString() ([]byte, error) {
	n, special, err := p.readLengthOrEncoding()
	if err != nil {
		return nil, err
	}

	if !special {
		return p.readStringData(n)
	}

	switch n {
	case 0:
		var v int8
		if err := binary.Read(p.br, binary.LittleEndian, &v); err != nil {
			return nil, unexpectedEOF(err)
		}
		return strconv.AppendInt(nil, int64(v), 10), nil

	case 1:
		var v int16
		if err := binary.Read(p.br, binary.LittleEndian, &v); err != nil {
			return nil, unexpectedEOF(err)
		}
		return strconv.AppendInt(nil, int64(v), 10), nil

	case 2:
		var v int32
		if err := binary.Read(p.br, binary.LittleEndian, &v); err != nil {
			return nil, unexpectedEOF(err)
		}
		return strconv.AppendInt(nil, int64(v), 10), nil

	case 3:
		return p.readCompressedString()

	default:
		return nil, fmt.Errorf("invalid special string encoding: %d", n)
	}
}

func (p *RDBParser) readCompressedString() ([]byte, error) {
	compressedLen, err := p.readLength()
	if err != nil {
		return nil, fmt.Errorf("read compressed length: %w", err)
	}

	uncompressedLen, err := p.readLength()
	if err != nil {
		return nil, fmt.Errorf("read uncompressed length: %w", err)
	}
	if uncompressedLen > maxRDBString {
		return nil, fmt.Errorf("string length too large: %d", uncompressedLen)
	}

	compressed, err := p.readStringData(compressedLen)
	if err != nil {
		return nil, err
	}

	return lzfDecompress(compressed, int(uncompressedLen))
}

func (p *RDBParser) readStringData(length uint64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if length > maxRDBString {
		return nil, fmt.Errorf("string length too large: %d", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(p.br, data); err != nil {
		return nil, fmt.Errorf("read string data: %w", unexpectedEOF(err))
	}
	return data, nil
}

// unexpectedEOF turns a bare EOF inside a structure into ErrUnexpectedEOF
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ParseRDB parses an RDB stream with the given handler
func ParseRDB(r io.Reader, handler RDBHandler) error {
	return NewRDBParser(r, handler).Parse()
}
