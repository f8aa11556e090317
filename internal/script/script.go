// SPDX-License-Identifier: MIT

// Package script compiles the configured custom script once and runs it in a
// throwaway Lua sandbox per admitted request. Scripts observe the request;
// they cannot touch the filesystem, network or process.
package script

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
)

// DefaultTimeout bounds one script run. A hung script must never hold an
// ingestion worker for longer than this.
const DefaultTimeout = time.Second

const chunkName = "customScript"

// Input is the request view exposed to the script as the global `request`.
type Input struct {
	ID          string
	WebhookID   string
	Method      string
	Path        string
	ContentType string
	RemoteIP    string
	Headers     map[string]string
	Query       map[string]string
	Body        string
}

// Runner holds one compiled script. Safe for concurrent Run calls: every run
// gets its own interpreter state over the shared bytecode.
type Runner struct {
	proto   *lua.FunctionProto
	timeout time.Duration
	log     zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides the per-run deadline, used by tests.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Compile parses and compiles the script source. The returned Runner is
// reused for every request until the configuration changes.
func Compile(source string, opts ...Option) (*Runner, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("script: empty source")
	}
	chunk, err := parse.Parse(strings.NewReader(source), chunkName)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		proto:   proto,
		timeout: DefaultTimeout,
		log:     log.WithComponent("script"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the compiled script against one request. Errors (including
// timeouts) are logged with the SCRIPT-EXEC-ERROR marker and returned; the
// caller admits the request regardless.
func (r *Runner) Run(ctx context.Context, in Input) error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	L.SetContext(runCtx)

	if err := openSandboxLibs(L); err != nil {
		metrics.RecordScriptRun("error")
		r.logFailure(in, err)
		return err
	}
	r.installPrint(L, in)
	L.SetGlobal("request", requestTable(L, in))

	L.Push(L.NewFunctionFromProto(r.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		result := "error"
		if runCtx.Err() != nil {
			result = "timeout"
		}
		metrics.RecordScriptRun(result)
		r.logFailure(in, err)
		return err
	}

	metrics.RecordScriptRun("ok")
	return nil
}

func (r *Runner) logFailure(in Input, err error) {
	r.log.Error().
		Err(err).
		Str("event", "script.exec_error").
		Str(log.FieldWebhookID, in.WebhookID).
		Str(log.FieldEventID, in.ID).
		Msg("SCRIPT-EXEC-ERROR")
}

// openSandboxLibs loads only side-effect-free stdlib parts. os, io and debug
// stay out; the file loaders from the base lib are removed after opening.
func openSandboxLibs(L *lua.LState) error {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // must be first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.name)); err != nil {
			return err
		}
	}
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// installPrint routes the script's print() into the structured log.
func (r *Runner) installPrint(L *lua.LState, in Input) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		r.log.Info().
			Str("event", "script.print").
			Str(log.FieldWebhookID, in.WebhookID).
			Msg(strings.Join(parts, "\t"))
		return 0
	}))
}

func requestTable(L *lua.LState, in Input) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(in.ID))
	t.RawSetString("webhookId", lua.LString(in.WebhookID))
	t.RawSetString("method", lua.LString(in.Method))
	t.RawSetString("path", lua.LString(in.Path))
	t.RawSetString("contentType", lua.LString(in.ContentType))
	t.RawSetString("remoteIp", lua.LString(in.RemoteIP))
	t.RawSetString("body", lua.LString(in.Body))
	t.RawSetString("headers", tableFromMap(L, in.Headers))
	t.RawSetString("query", tableFromMap(L, in.Query))
	return t
}

func tableFromMap(L *lua.LState, m map[string]string) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		t.RawSetString(k, lua.LString(v))
	}
	return t
}
