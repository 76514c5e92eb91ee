package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// TypeRaw is a length-prefixed payload written without a trailing CRLF.
	// It is only ever written (snapshot transfer), never parsed.
	TypeRaw ValueType = 'R'
)

// Value represents a parsed RESP value
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// SimpleString builds a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// Error builds an error value
func Error(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// BulkString builds a bulk string value
func BulkString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// Integer builds an integer value
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Array builds an array value
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// Null builds the null bulk string
func Null() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// Raw builds a raw payload value
func Raw(data []byte) Value {
	return Value{Type: TypeRaw, Data: data}
}

// Text returns the value as a domain string.
//
// Simple strings, bulk strings and integers convert; arrays, null and raw
// payloads fail with a *ProtocolError wrapping ErrNotString.
func (v Value) Text() (string, error) {
	switch v.Type {
	case TypeSimpleString:
		return string(v.Data), nil
	case TypeBulkString:
		if v.IsNull {
			return "", &ProtocolError{Message: "null bulk string has no text", Err: ErrNotString}
		}
		return string(v.Data), nil
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10), nil
	default:
		return "", &ProtocolError{Message: fmt.Sprintf("%s has no text", v.Type), Err: ErrNotString}
	}
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeRaw:
		return fmt.Sprintf("(raw %d bytes)", len(v.Data))
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// String returns the RESP name of the type
func (t ValueType) String() string {
	switch t {
	case TypeSimpleString:
		return "simple string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk string"
	case TypeArray:
		return "array"
	case TypeRaw:
		return "raw payload"
	default:
		return fmt.Sprintf("type %q", byte(t))
	}
}
