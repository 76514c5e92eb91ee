// Package command converts parsed RESP requests into a closed set of typed
// commands and defines the typed responses a handler produces.
//
// Commands are built only from an array of string-typed frames. The first
// element, compared case-insensitively, selects the command:
//
//	cmd, err := command.FromRequest(value)
//	if err != nil {
//		var perr *command.ParseError
//		// reply with an error, keep the connection
//	}
//
// Request does the reverse for the commands a replica sends to its primary.
package command
