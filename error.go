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

import "github.com/milochristiansen/lua/luautil"

// ErrKind is a broad classification of the errors this package produces.
type ErrKind int

// Error kinds.
const (
	KindRuntime     ErrKind = iota // A script-level error: type errors, explicit error() calls, etc.
	KindSyntax                     // A chunk failed to compile or load.
	KindCallback                   // A host callback returned an error. The original error is the Cause.
	KindArgument                   // A callback or method argument was missing or had the wrong type.
	KindResultCount                // A callback tried to return more values than the VM will accept.
	KindRecursive                  // An exclusive callback or method was called while already running.
	KindDestructed                 // The callback or userdata behind a value has been destructed.
	KindMismatched                 // A handle or registry key from one Runtime was used with another.
	KindClosed                     // The Runtime backing the operation has been closed.
	KindConversion                 // A host value has no script representation.
)

var kindMessages = [...]string{
	KindRuntime:     "runtime error",
	KindSyntax:      "syntax error",
	KindCallback:    "callback error",
	KindArgument:    "bad argument",
	KindResultCount: "too many return values from callback",
	KindRecursive:   "exclusive callback called recursively",
	KindDestructed:  "value has been destructed",
	KindMismatched:  "value belongs to a different Runtime",
	KindClosed:      "runtime has been closed",
	KindConversion:  "value cannot be converted to a script value",
}

func (k ErrKind) String() string {
	if k < 0 || int(k) >= len(kindMessages) {
		return "unknown error"
	}
	return kindMessages[k]
}

// Error is used for every recoverable error this package returns.
//
// Errors raised by script code or by the VM itself come back as KindRuntime or
// KindSyntax. Errors returned from your own callbacks come back as KindCallback with
// your error as the Cause (use errors.As/Is on the chain to get it back out).
type Error struct {
	Kind  ErrKind
	Msg   string // Optional detail message. If empty the Kind description is used.
	Cause error  // Optional underlying error.
	Trace string // Script stack trace, if one was available.
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Trace != "" {
		msg += "\n  Stack Trace:" + e.Trace
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is a *Error of the given kind.
// Only the outermost *Error in the chain is examined.
func IsKind(err error, k ErrKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}

// panicError carries a host panic across interpreter frames.
//
// It must never be converted to a *Error or otherwise shown to script code. The whole
// point is that the original panic value resumes, untouched, at the host frame that is
// waiting above the interpreter.
type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("host panic in flight: %v", p.value)
}

// panicPayload digs the panic-in-flight sentinel (if any) out of an error recovered by
// the VM. The VM wraps foreign error values with ErrTypWrapped, so a sentinel that
// crossed a protected frame always sits exactly one level down.
func panicPayload(err error) *panicError {
	if pe, ok := err.(*panicError); ok {
		return pe
	}
	le, ok := err.(luautil.Error)
	if !ok {
		return nil
	}
	pe, _ := le.Err.(*panicError)
	return pe
}

// convertError maps an error recovered from the VM into this package's taxonomy.
//
// Errors of the VM's "major internal" class are re-panicked rather than returned, those
// indicate a bug in the VM or in this package and must not be treated as recoverable.
func convertError(err error) error {
	switch e := err.(type) {
	case *Error:
		return e
	case luautil.Error:
		if e.Type == luautil.ErrTypMajorInternal {
			panic(e)
		}
		if inner, ok := e.Err.(*Error); ok {
			// One of our own structured errors crossed a protected frame.
			if inner.Trace == "" {
				inner.Trace = e.Trace
			}
			return inner
		}

		kind := KindRuntime
		switch e.Type {
		case luautil.ErrTypGenLexer, luautil.ErrTypGenSyntax:
			kind = KindSyntax
		case luautil.ErrTypBinLoader, luautil.ErrTypBinDumper:
			kind = KindSyntax
		}
		return &Error{Kind: kind, Msg: e.Msg, Cause: e.Err, Trace: e.Trace}
	default:
		return &Error{Kind: KindRuntime, Cause: err}
	}
}
