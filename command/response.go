package command

import (
	"github.com/raniellyferreira/minredis/protocol"
)

// Response is a typed reply produced by the handler
type Response interface {
	Encode(w *protocol.Writer) error
}

// OK is the +OK reply
type OK struct{}

// Pong is the +PONG reply
type Pong struct{}

// Null is the absent-value reply ($-1)
type Null struct{}

// SimpleString is a +<text> reply
type SimpleString string

// BulkString is a $<len> reply
type BulkString string

// RawPayload is a length-prefixed payload with no trailing CRLF (snapshot transfer)
type RawPayload []byte

// Integer is a :<n> reply
type Integer int64

// Error is a -<message> reply
type Error string

// Array is a *<n> reply of nested responses
type Array []Response

// Sequence is several replies written back to back with no framing of its own.
// PSYNC uses it to emit the FULLRESYNC line followed by the snapshot.
type Sequence []Response

func (OK) Encode(w *protocol.Writer) error {
	return w.WriteSimpleString("OK")
}

func (Pong) Encode(w *protocol.Writer) error {
	return w.WriteSimpleString("PONG")
}

func (Null) Encode(w *protocol.Writer) error {
	return w.WriteNullBulkString()
}

func (r SimpleString) Encode(w *protocol.Writer) error {
	return w.WriteSimpleString(string(r))
}

func (r BulkString) Encode(w *protocol.Writer) error {
	return w.WriteBulkStringFromString(string(r))
}

func (r RawPayload) Encode(w *protocol.Writer) error {
	return w.WriteRaw(r)
}

func (r Integer) Encode(w *protocol.Writer) error {
	return w.WriteInteger(int64(r))
}

func (r Error) Encode(w *protocol.Writer) error {
	return w.WriteError(string(r))
}

func (r Array) Encode(w *protocol.Writer) error {
	if err := w.WriteArrayHeader(len(r)); err != nil {
		return err
	}
	for _, item := range r {
		if err := item.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func (r Sequence) Encode(w *protocol.Writer) error {
	for _, item := range r {
		if err := item.Encode(w); err != nil {
			return err
		}
	}
	return nil
}
