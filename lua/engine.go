package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/puzpuzpuz/xsync/v3"
	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/minredis/command"
)

// ErrNoScript is returned by EvalSHA for an unknown digest
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL")

// Caller executes a command issued from a script through redis.call
type Caller interface {
	Call(ctx context.Context, args []string) (command.Response, error)
}

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	caller  Caller
	scripts *xsync.MapOf[string, string] // SHA1 -> script body
}

// NewEngine creates a new Lua execution engine
func NewEngine(caller Caller) *Engine {
	return &Engine{
		caller:  caller,
		scripts: xsync.NewMapOf[string, string](),
	}
}

// Eval executes a Lua script with the given keys and arguments. A script
// that compiles is cached under its SHA1 digest, as with SCRIPT LOAD.
func (e *Engine) Eval(ctx context.Context, script string, keys, args []string) (command.Response, error) {
	return e.run(ctx, script, keys, args, true)
}

// EvalSHA executes a previously loaded script by its SHA1 digest
func (e *Engine) EvalSHA(ctx context.Context, sha string, keys, args []string) (command.Response, error) {
	script, ok := e.scripts.Load(sha)
	if !ok {
		return nil, ErrNoScript
	}
	return e.run(ctx, script, keys, args, false)
}

// run executes script in a fresh interpreter bound to ctx
func (e *Engine) run(ctx context.Context, script string, keys, args []string, cache bool) (command.Response, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSafeLibs(L)
	L.SetContext(ctx)

	e.setupRedisAPI(ctx, L, keys, args)

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("script execution error: %w", err)
	}
	if cache {
		e.LoadScript(script)
	}

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("script execution error: %w", err)
	}

	return toResponse(L.Get(-1)), nil
}

// LoadScript caches a script and returns its SHA1 digest
func (e *Engine) LoadScript(script string) string {
	sum := sha1.Sum([]byte(script))
	digest := hex.EncodeToString(sum[:])
	e.scripts.Store(digest, script)
	return digest
}

// ScriptExists reports which digests are cached
func (e *Engine) ScriptExists(digests []string) []bool {
	results := make([]bool, len(digests))
	for i, digest := range digests {
		_, results[i] = e.scripts.Load(digest)
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Clear()
}

// ScriptCount returns the number of cached scripts
func (e *Engine) ScriptCount() int {
	return e.scripts.Size()
}

// openSafeLibs loads the libraries a script may use; io and os are left out
func openSafeLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// setupRedisAPI configures the Lua state with KEYS, ARGV and the redis table
func (e *Engine) setupRedisAPI(ctx context.Context, L *lua.LState, keys, args []string) {
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.NewTable()
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			return e.redisCall(ctx, L, false)
		},
		"pcall": func(L *lua.LState) int {
			return e.redisCall(ctx, L, true)
		},
		"status_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("ok", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
		"error_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("err", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
	})
	L.SetGlobal("redis", redisTable)
}

// redisCall implements redis.call and redis.pcall. A protected call returns
// failures as an {err=...} table instead of raising them.
func (e *Engine) redisCall(ctx context.Context, L *lua.LState, protected bool) int {
	argc := L.GetTop()
	if argc == 0 {
		return e.callFailed(L, protected, "Please specify at least one argument for this redis lib call")
	}

	args := make([]string, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			args[i-1] = string(v)
		case lua.LNumber:
			args[i-1] = v.String()
		default:
			return e.callFailed(L, protected, "Lua redis lib command arguments must be strings or integers")
		}
	}

	resp, err := e.caller.Call(ctx, args)
	if err != nil {
		return e.callFailed(L, protected, err.Error())
	}
	if msg, ok := resp.(command.Error); ok {
		return e.callFailed(L, protected, string(msg))
	}

	L.Push(toLua(L, resp))
	return 1
}

func (e *Engine) callFailed(L *lua.LState, protected bool, msg string) int {
	if protected {
		t := L.NewTable()
		t.RawSetString("err", lua.LString(msg))
		L.Push(t)
		return 1
	}
	L.RaiseError("%s", msg)
	return 0
}

// toLua converts a command reply to its Lua form
func toLua(L *lua.LState, resp command.Response) lua.LValue {
	switch v := resp.(type) {
	case command.OK:
		return statusTable(L, "OK")
	case command.Pong:
		return statusTable(L, "PONG")
	case command.SimpleString:
		return statusTable(L, string(v))
	case command.BulkString:
		return lua.LString(v)
	case command.Integer:
		return lua.LNumber(v)
	case command.Null:
		return lua.LFalse
	case command.Array:
		t := L.NewTable()
		for i, item := range v {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	default:
		return lua.LFalse
	}
}

func statusTable(L *lua.LState, s string) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("ok", lua.LString(s))
	return t
}

// toResponse converts a script's return value using Redis conversion rules:
// numbers truncate to integers, true is 1, false and nil are null, and tables
// become arrays up to the first nil unless they carry ok or err.
func toResponse(lv lua.LValue) command.Response {
	switch v := lv.(type) {
	case lua.LString:
		return command.BulkString(v)
	case lua.LNumber:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return command.Null{}
		}
		return command.Integer(int64(f))
	case lua.LBool:
		if v {
			return command.Integer(1)
		}
		return command.Null{}
	case *lua.LTable:
		if errMsg, ok := v.RawGetString("err").(lua.LString); ok {
			return command.Error(errMsg)
		}
		if status, ok := v.RawGetString("ok").(lua.LString); ok {
			return command.SimpleString(status)
		}
		var out command.Array
		for i := 1; ; i++ {
			item := v.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			out = append(out, toResponse(item))
		}
		if out == nil {
			out = command.Array{}
		}
		return out
	default:
		return command.Null{}
	}
}
