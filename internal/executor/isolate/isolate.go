// Package isolate runs JavaScript submissions inside an in-process goja VM
// with a restricted global scope instead of spawning node.
package isolate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"codexec/internal/executor/result"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/logger"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

const (
	sourceName     = "solution.js"
	defaultTimeout = 5 * time.Second
	// How long to wait for an interrupted VM to unwind before giving up on it.
	interruptGrace = time.Second
)

var (
	errTimeout   = appErr.New(appErr.TimeLimitExceeded)
	errCancelled = appErr.New(appErr.Cancelled)
)

// Allowed lists the global bindings that survive the lockdown.
// console is kept as a no-op sink so debugging calls do not throw.
var Allowed = []string{
	"Math", "JSON", "Array", "Object", "String", "Number", "Boolean",
	"parseInt", "parseFloat", "isNaN", "isFinite",
	"undefined", "NaN", "Infinity",
	"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError",
	"Promise", "console",
}

// lockdownScript removes the constructor that compiles strings into code.
// Function and eval are already gone from the global object at this point.
const lockdownScript = `delete Object.getPrototypeOf(function () {}).constructor;`

// Async and generator function constructors, where the runtime supports the syntax.
var optionalLockdown = []string{
	`delete Object.getPrototypeOf(async function () {}).constructor;`,
	`delete Object.getPrototypeOf(function* () {}).constructor;`,
}

const consoleScript = `var console = (function () {
  var noop = function () {};
  return { log: noop, info: noop, debug: noop, warn: noop, error: noop };
})();`

// Runner executes one test case per fresh VM.
type Runner struct {
	allowed map[string]struct{}
}

// New creates an isolate runner.
func New() *Runner {
	allowed := make(map[string]struct{}, len(Allowed))
	for _, name := range Allowed {
		allowed[name] = struct{}{}
	}
	return &Runner{allowed: allowed}
}

type vmResult struct {
	out result.Outcome
}

// Run evaluates code, calls main (or solution) with input and returns the
// classified outcome. It never returns a Go error: every failure mode,
// including a panic inside the VM, becomes Outcome.Error.
func (r *Runner) Run(ctx context.Context, code string, input any, timeout time.Duration) result.Outcome {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return result.Outcome{Error: errCancelled.Error(), Cancelled: true}
	}

	rawInput, err := json.Marshal(input)
	if err != nil {
		return result.Outcome{Error: fmt.Sprintf("invalid input: %v", err)}
	}

	vm := goja.New()
	done := make(chan vmResult, 1)
	start := time.Now()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(ctx, "isolate vm panicked", zap.Any("panic", rec))
				done <- vmResult{out: result.Outcome{Error: fmt.Sprintf("internal error: %v", rec)}}
			}
		}()
		done <- vmResult{out: r.evaluate(vm, code, string(rawInput))}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res vmResult
	select {
	case res = <-done:
	case <-timer.C:
		vm.Interrupt(errTimeout)
		res = awaitInterrupted(done, result.Outcome{Error: errTimeout.Error(), TimedOut: true})
	case <-ctx.Done():
		vm.Interrupt(errCancelled)
		res = awaitInterrupted(done, result.Outcome{Error: errCancelled.Error(), Cancelled: true})
	}

	res.out.TimeMs = time.Since(start).Milliseconds()
	return res.out
}

func awaitInterrupted(done <-chan vmResult, fallback result.Outcome) vmResult {
	select {
	case res := <-done:
		// The VM may have finished just before the interrupt landed.
		if res.out.Failed() {
			res.out = fallback
		}
		return res
	case <-time.After(interruptGrace):
		return vmResult{out: fallback}
	}
}

func (r *Runner) evaluate(vm *goja.Runtime, code, rawInput string) result.Outcome {
	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, _ := goja.AssertFunction(jsonObj.Get("parse"))
	stringify, _ := goja.AssertFunction(jsonObj.Get("stringify"))

	if err := r.lockdown(vm); err != nil {
		return result.Outcome{Error: fmt.Sprintf("internal error: %v", err)}
	}

	if _, err := vm.RunScript(sourceName, code); err != nil {
		return result.Outcome{Error: errorMessage(vm, err)}
	}

	entry, ok := lookupEntry(vm)
	if !ok {
		return result.Outcome{Error: appErr.EntryPointNotFound.Message() + " (define main or solution)"}
	}

	arg, err := parse(goja.Undefined(), vm.ToValue(rawInput))
	if err != nil {
		return result.Outcome{Error: "invalid input: " + errorMessage(vm, err)}
	}

	ret, err := entry(goja.Undefined(), arg)
	if err != nil {
		return result.Outcome{Error: errorMessage(vm, err)}
	}

	if p, ok := ret.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			ret = p.Result()
		case goja.PromiseStateRejected:
			return result.Outcome{Error: valueMessage(p.Result())}
		default:
			return result.Outcome{Error: "promise never settled"}
		}
	}

	if ret == nil || goja.IsUndefined(ret) {
		return result.Outcome{Actual: nil}
	}
	text, err := stringify(goja.Undefined(), ret)
	if err != nil {
		return result.Outcome{Error: errorMessage(vm, err)}
	}
	if goja.IsUndefined(text) {
		return result.Outcome{Actual: nil}
	}

	var actual any
	if err := json.Unmarshal([]byte(text.String()), &actual); err != nil {
		return result.Outcome{Error: fmt.Sprintf("malformed result: %v", err)}
	}
	return result.Outcome{Actual: actual}
}

func (r *Runner) lockdown(vm *goja.Runtime) error {
	global := vm.GlobalObject()
	for _, name := range global.GetOwnPropertyNames() {
		if _, ok := r.allowed[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("remove global %s: %w", name, err)
		}
	}
	if _, err := vm.RunString(lockdownScript); err != nil {
		return fmt.Errorf("lock down constructors: %w", err)
	}
	for _, script := range optionalLockdown {
		// A syntax error here only means the construct does not exist.
		_, _ = vm.RunString(script)
	}
	if _, ok := r.allowed["console"]; ok {
		if _, err := vm.RunString(consoleScript); err != nil {
			return fmt.Errorf("install console: %w", err)
		}
	}
	return nil
}

func lookupEntry(vm *goja.Runtime) (goja.Callable, bool) {
	for _, name := range []string{"main", "solution"} {
		if fn, ok := goja.AssertFunction(vm.Get(name)); ok {
			return fn, true
		}
	}
	return nil, false
}

func errorMessage(vm *goja.Runtime, err error) string {
	switch e := err.(type) {
	case *goja.InterruptedError:
		if v, ok := e.Value().(error); ok {
			return v.Error()
		}
		return fmt.Sprint(e.Value())
	case *goja.Exception:
		return valueMessage(e.Value())
	case *goja.CompilerSyntaxError:
		return "SyntaxError: " + e.Message
	default:
		return err.Error()
	}
}

func valueMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "unknown error"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return strings.TrimSpace(msg.String())
		}
	}
	return strings.TrimSpace(v.String())
}
