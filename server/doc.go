// Package server accepts client connections and executes commands.
//
// A Handler maps each parsed command to a typed reply: PING, ECHO, SET, GET,
// INFO, REPLCONF and PSYNC, plus EVAL, EVALSHA and SCRIPT through the Lua
// engine. A Server runs one goroutine per connection over a streaming RESP
// reader, so requests may be pipelined and split across reads.
//
// A request that is framed correctly but is not a valid command gets an
// error reply and the connection stays open. A malformed frame gets an
// error reply and the connection is closed.
package server
