// Package lua provides Redis-compatible Lua script execution.
//
// Scripts see KEYS and ARGV tables and a redis table with call, pcall,
// status_reply and error_reply. Commands issued through redis.call are
// handed to a Caller, so scripts run exactly the commands a client could.
//
// Only the base, table, string and math libraries are loaded.
package lua
