// Package protocol implements the Redis Serialization Protocol (RESP)
// for parsing and writing Redis protocol messages.
//
// Parsing runs over an explicit cursor on a byte slice (Parser), so it does
// not care how the bytes were read. Reader layers a growable buffer on top of
// a connection and re-runs the parser until a full frame is available.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, err := reader.ReadNext()
//		if err != nil {
//			break
//		}
//		// Process value
//	}
//
// Supported frames:
//   - Simple Strings
//   - Errors
//   - Integers
//   - Bulk Strings
//   - Arrays
//
// Writer additionally emits null bulk strings and raw payloads
// (`$<len>\r\n<bytes>` with no trailing CRLF) used for snapshot transfer.
package protocol
