/*
Copyright 2016-2017 by Milo Christiansen

This software is provided 'as-is', without any express or implied warranty. In
no event will the authors be held liable for any damages arising from the use of
this software.

Permission is granted to anyone to use this software for any purpose, including
commercial applications, and to alter it and redistribute it freely, subject to
the following restrictions:

1. The origin of this software must not be misrepresented; you must not claim
that you wrote the original software. If you use this software in a product, an
acknowledgment in the product documentation would be appreciated but is not
required.

2. Altered source versions must be plainly marked as such, and must not be
misrepresented as being the original software.

3. This notice may not be removed or altered from any source distribution.
*/

package luasafe

import "fmt"
import "runtime/debug"

import "github.com/milochristiansen/lua"

// Callback is a host function exposed to script code.
//
// Returning an error raises it as a normal script error (catchable by script pcall, and
// surfaced to the host as a KindCallback error with your error as the Cause). Panicking
// is also safe: the panic is carried across the interpreter, cannot be caught by script
// code, and resumes at the host frame that called into the VM.
//
// Reference-typed arguments arrive as handles owned by the callback. Release them when
// you are done (or don't; they die with the Runtime either way). Reference-typed results
// are consumed: their handles are released as the values are handed back to the script,
// so do not keep a returned handle around for later use (read the value again if you
// need it back).
type Callback func(rt *Runtime, args Args) ([]Value, error)

// MaxCallbackResults is the most values a single callback invocation may return.
// Returning more is a KindResultCount error. You will never hit this by accident.
const MaxCallbackResults = 250

// Args holds the arguments a callback was invoked with. It is a plain []Value with some
// checked accessors bolted on: each accessor returns a KindArgument error (never
// panics) if the argument is missing or has the wrong type. Argument numbering starts
// at 0.
type Args []Value

// Value returns argument i, or nil if there is no argument i. Missing arguments and
// nil arguments are indistinguishable, exactly as in the language itself.
func (a Args) Value(i int) Value {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

func argErr(i int, want string, got Value) error {
	if got == nil {
		return &Error{Kind: KindArgument, Msg: fmt.Sprintf("argument %v: %v required", i+1, want)}
	}
	return &Error{Kind: KindArgument, Msg: fmt.Sprintf("argument %v: %v required, got %T", i+1, want, got)}
}

// Int returns argument i as an integer. Floats with integral values convert.
func (a Args) Int(i int) (int64, error) {
	switch v := a.Value(i).(type) {
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	}
	return 0, argErr(i, "integer", a.Value(i))
}

// Float returns argument i as a float. Integers convert.
func (a Args) Float(i int) (float64, error) {
	switch v := a.Value(i).(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	}
	return 0, argErr(i, "number", a.Value(i))
}

// String returns argument i as a string. Numbers convert, the way they do everywhere
// else in the language.
func (a Args) String(i int) (string, error) {
	switch v := a.Value(i).(type) {
	case string:
		return v, nil
	case int64:
		return fmt.Sprintf("%v", v), nil
	case float64:
		return fmt.Sprintf("%v", v), nil
	}
	return "", argErr(i, "string", a.Value(i))
}

// Bool returns argument i interpreted as a condition: nil and false are false,
// everything else is true.
func (a Args) Bool(i int) bool {
	v := a.Value(i)
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return !ok || b
}

// Table returns argument i as a table handle.
func (a Args) Table(i int) (*Table, error) {
	if t, ok := a.Value(i).(*Table); ok {
		return t, nil
	}
	return nil, argErr(i, "table", a.Value(i))
}

// Function returns argument i as a function handle.
func (a Args) Function(i int) (*Function, error) {
	if f, ok := a.Value(i).(*Function); ok {
		return f, nil
	}
	return nil, argErr(i, "function", a.Value(i))
}

// UserData returns argument i as a userdata handle.
func (a Args) UserData(i int) (*AnyUserData, error) {
	if u, ok := a.Value(i).(*AnyUserData); ok {
		return u, nil
	}
	return nil, argErr(i, "userdata", a.Value(i))
}

// Check returns a KindArgument error unless at least n arguments were given.
func (a Args) Check(n int) error {
	if len(a) < n {
		return &Error{Kind: KindArgument, Msg: fmt.Sprintf("%v arguments required, got %v", n, len(a))}
	}
	return nil
}

// callbackCell is the mutable heart of a registered callback. The script-side function
// value closes over the cell, not the callback, so the callback can be invalidated
// (scope exit, Runtime close) no matter how many script variables still reference the
// function.
type callbackCell struct {
	fn        Callback
	exclusive bool
	busy      bool
}

func (c *callbackCell) destruct() {
	c.fn = nil
	c.busy = false
}

// hostPanicGuard converts a panic unwinding out of host callback code into the
// panic-in-flight sentinel. Install with defer around the callback invocation and
// nothing else: any panic that crosses it is by definition a host panic, and anything
// this package raises on purpose is raised outside the guarded region.
func hostPanicGuard() {
	if p := recover(); p != nil {
		pe, ok := p.(*panicError)
		if !ok {
			pe = &panicError{value: p, stack: debug.Stack()}
		}
		panic(pe)
	}
}

// trampoline builds the native function that bridges one callback cell into the VM.
func (rt *Runtime) trampoline(cell *callbackCell) lua.NativeFunction {
	return func(l *lua.State) int {
		// The cheap checks come first: marshaling anchors a slot per reference-typed
		// argument, and those slots would leak on the error paths.
		if cell.fn == nil {
			panic(&Error{Kind: KindDestructed, Msg: "callback has been destructed"})
		}
		if cell.exclusive && cell.busy {
			panic(&Error{Kind: KindRecursive})
		}

		// ENTER: marshal the arguments off the value stack.
		n := l.AbsIndex(-1)
		args := make(Args, 0, n)
		for i := 1; i <= n; i++ {
			args = append(args, rt.readValue(i))
		}

		// EXECUTE.
		rtns, err := rt.invokeCell(cell, args)

		// RETURN / HOST-ERROR. (HOST-PANIC never gets here, the guard re-raised it.)
		return rt.finishCall(rtns, err)
	}
}

func (rt *Runtime) invokeCell(cell *callbackCell, args Args) (rtns []Value, err error) {
	if cell.exclusive {
		cell.busy = true
		defer func() { cell.busy = false }()
	}
	defer hostPanicGuard()
	return cell.fn(rt, args)
}

// finishCall is the shared tail of every trampoline: translate a host error result
// into a script error, or marshal the results back onto the value stack.
func (rt *Runtime) finishCall(rtns []Value, err error) int {
	if err != nil {
		panic(&Error{Kind: KindCallback, Cause: err})
	}
	if len(rtns) > MaxCallbackResults {
		panic(&Error{Kind: KindResultCount, Msg: fmt.Sprintf("%v values returned, limit is %v", len(rtns), MaxCallbackResults)})
	}

	// Once a result is on the value stack the VM owns it; the handle's slot would
	// otherwise stay pinned for the life of the Runtime.
	for _, v := range rtns {
		rt.pushValue(v)
		releaseIfHandle(v)
	}
	return len(rtns)
}

// CreateFunction wraps a host callback as a script function. The callback may be
// invoked re-entrantly (script calls it, it calls back into script code, which calls it
// again); if that is not safe for your closure use CreateExclusiveFunction.
func (rt *Runtime) CreateFunction(fn Callback) (*Function, error) {
	f, _, err := rt.createCallback(fn, false)
	return f, err
}

// CreateExclusiveFunction wraps a host callback that must never be re-entered.
// Invoking it while an invocation is already on the call stack produces a
// KindRecursive error (a normal, catchable script error, not a panic).
func (rt *Runtime) CreateExclusiveFunction(fn Callback) (*Function, error) {
	f, _, err := rt.createCallback(fn, true)
	return f, err
}

func (rt *Runtime) createCallback(fn Callback, exclusive bool) (*Function, *callbackCell, error) {
	cell := &callbackCell{fn: fn, exclusive: exclusive}

	var f *Function
	err := rt.protect(func() {
		rt.l.Push(rt.trampoline(cell))
		f = &Function{ref{rt, rt.anchor()}}
	})
	if err != nil {
		return nil, nil, err
	}

	rt.cells[cell] = struct{}{}
	return f, cell, nil
}
