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
import "io"
import "strings"
import "sync"

import "github.com/milochristiansen/lua"
import "github.com/milochristiansen/lua/lmodbase"
import "github.com/milochristiansen/lua/lmodmath"
import "github.com/milochristiansen/lua/lmodpackage"
import "github.com/milochristiansen/lua/lmodstring"
import "github.com/milochristiansen/lua/lmodtable"
import "github.com/milochristiansen/lua/lmodutf8"
import "github.com/milochristiansen/lua/luautil"

// Lib is a bit set selecting which standard libraries a new Runtime gets.
//
// There are no flags for io, os, or debug. The VM does not provide those libraries at
// all, which is by far the easiest way to keep untrusted scripts out of your filesystem.
type Lib uint

// Standard library flags.
const (
	LibBase Lib = 1 << iota
	LibPackage
	LibString
	LibTable
	LibMath
	LibUTF8

	LibsAll = LibBase | LibPackage | LibString | LibTable | LibMath | LibUTF8
)

// Config controls the creation of a new Runtime.
type Config struct {
	// The standard libraries to open. Use LibsAll unless you have a reason not to.
	Libs Lib

	// Where script output (print and friends) goes. Defaults to os.Stdout.
	Output io.Writer

	// Do not install the nonstandard string extension functions.
	NoStringExts bool
}

// Runtime owns one interpreter instance plus the bookkeeping needed to keep handles,
// callbacks, and userdata safe. All the interesting state lives inside the VM; a
// Runtime is cheap to pass around by pointer, and every handle derived from it keeps a
// reference to it.
//
// A Runtime is single-threaded. It may be moved between goroutines, but concurrent use
// needs external locking.
type Runtime struct {
	l *lua.State

	refs refStore

	// Unnamed registry value bookkeeping. IDs are recycled through a free list; dropped
	// keys park their ID on the unref list (possibly from the GC goroutine, hence the
	// mutex) until the next ExpireRegistryValues sweep.
	regNext int
	regFree []int
	unref   struct {
		sync.Mutex
		ids []int
	}

	types map[interface{}]*userTypeInfo
	cells map[*callbackCell]struct{}
	boxes map[*userDataBox]struct{}

	// Slot anchoring the shared "destructed" sentinel metatable.
	destructedMeta int

	closed bool
}

// Registry name of the arena table backing unnamed registry values. Names starting with
// "luasafe." are reserved for this package.
const regValuesName = "luasafe.registry-values"

// New creates a Runtime ready to use. A nil config is treated as &Config{Libs: LibsAll}.
func New(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = &Config{Libs: LibsAll}
	}

	l := lua.NewState()
	if cfg.Output != nil {
		l.Output = cfg.Output
	}

	rt := &Runtime{
		l:       l,
		regNext: 1,
		types:   make(map[interface{}]*userTypeInfo),
		cells:   make(map[*callbackCell]struct{}),
		boxes:   make(map[*userDataBox]struct{}),
	}

	// The arena for unnamed registry values.
	l.Push(regValuesName)
	l.NewTable(16, 0)
	l.SetTableRaw(lua.RegistryIndex)

	rt.destructedMeta = rt.makeDestructedMeta()

	rt.openLibs(cfg)
	return rt
}

func (rt *Runtime) openLibs(cfg *Config) {
	l := rt.l

	if cfg.NoStringExts {
		l.Push("_NO_STRING_EXTS")
		l.Push(true)
		l.SetTableRaw(lua.RegistryIndex)
	}

	open := func(f lua.NativeFunction) {
		err := rt.protect(func() {
			l.Push(f)
			l.Call(0, 0)
		})
		if err != nil {
			// The stock libraries do not error while loading. If one does anyway
			// something is deeply wrong.
			luautil.RaiseExisting(err, "Standard library failed to load.")
		}
	}

	if cfg.Libs&LibBase != 0 {
		open(lmodbase.Open)

		// Replace the stock pcall with the version that knows about host panics.
		// Without this a panic in one of your callbacks would be observable (and
		// suppressible!) by any script that wrapped the call in pcall.
		l.Push(rt.safePCall())
		l.SetGlobal("pcall")
	}
	if cfg.Libs&LibPackage != 0 {
		open(lmodpackage.Open)
	}
	if cfg.Libs&LibString != 0 {
		open(lmodstring.Open)
	}
	if cfg.Libs&LibTable != 0 {
		open(lmodtable.Open)
	}
	if cfg.Libs&LibMath != 0 {
		open(lmodmath.Open)
	}
	if cfg.Libs&LibUTF8 != 0 {
		open(lmodutf8.Open)
	}
}

// Close invalidates every callback and userdata value this Runtime has handed out and
// marks the Runtime unusable. Every later operation on the Runtime or any of its
// handles returns a KindClosed error. Close is idempotent.
//
// You do not have to call Close, the garbage collector will reclaim everything
// eventually. Close exists so host data captured by callbacks and userdata can be
// released at a known point.
func (rt *Runtime) Close() {
	if rt.closed {
		return
	}

	for cell := range rt.cells {
		cell.destruct()
	}
	for box := range rt.boxes {
		box.destruct()
	}
	rt.cells = make(map[*callbackCell]struct{})
	rt.boxes = make(map[*userDataBox]struct{})

	rt.closed = true
}

// protect is the protected call shim everything else is built on. f runs inside the
// VM's protected-call primitive: any error it raises is recovered, the value stack is
// restored, and the error comes back converted to a *Error.
//
// Two things are deliberately NOT converted:
//
//   - A host panic that was carried across interpreter frames resumes here, as the
//     original panic value.
//   - Errors of the VM's internal-bug class are re-panicked. Those mean the stack or
//     slot bookkeeping is broken and nothing can be trusted.
//
// f must leave the value stack exactly as deep as it found it. This is checked on the
// success path (the VM itself restores the depth on error paths) and a violation is an
// internal-bug panic, never a recoverable error.
func (rt *Runtime) protect(f func()) error {
	if rt.closed {
		return &Error{Kind: KindClosed}
	}

	l := rt.l
	base := l.AbsIndex(-1)

	err := l.Protect(f)
	if err != nil {
		if pe := panicPayload(err); pe != nil {
			panic(pe.value)
		}
		return convertError(err)
	}

	if top := l.AbsIndex(-1); top != base {
		luautil.Raise(fmt.Sprintf("API stack imbalance: depth was %v on entry and %v on exit.", base, top), luautil.ErrTypMajorInternal)
	}
	return nil
}

// Eval compiles and runs a chunk of source text, returning whatever values the chunk
// returned. Tables, functions, and userdata in the results come back as handles, and it
// is your job to Release them.
func (rt *Runtime) Eval(src string) (rtns []Value, err error) {
	err = rt.protect(func() {
		l := rt.l
		base := l.AbsIndex(-1)

		ferr := l.LoadText(strings.NewReader(src), "eval", 0)
		if ferr != nil {
			panic(ferr)
		}
		l.Call(0, -1)

		top := l.AbsIndex(-1)
		for i := base + 1; i <= top; i++ {
			rtns = append(rtns, rt.readValue(i))
		}
		l.Pop(top - base)
	})
	if err != nil {
		return nil, err
	}
	return rtns, nil
}

// Exec is Eval for when you do not care about the results.
func (rt *Runtime) Exec(src string) error {
	return rt.protect(func() {
		l := rt.l

		ferr := l.LoadText(strings.NewReader(src), "exec", 0)
		if ferr != nil {
			panic(ferr)
		}
		l.Call(0, 0)
	})
}

// Load compiles a chunk of source text and returns it as a Function handle without
// running it. The chunk name is used in error messages.
func (rt *Runtime) Load(src, name string) (fn *Function, err error) {
	err = rt.protect(func() {
		l := rt.l

		ferr := l.LoadText(strings.NewReader(src), name, 0)
		if ferr != nil {
			panic(ferr)
		}
		fn = &Function{ref{rt, rt.anchor()}}
	})
	if err != nil {
		return nil, err
	}
	return fn, nil
}

// UnsafeLoadBinary loads a precompiled binary chunk and returns it as a Function
// handle.
//
// This is unsafe, full stop. The binary loader trusts its input, and a corrupt or
// malicious chunk can scribble all over the VM's internals in ways no protected frame
// can catch. Only load chunks you compiled yourself from sources you trust. For
// anything else use Load.
func (rt *Runtime) UnsafeLoadBinary(in io.Reader, name string) (fn *Function, err error) {
	err = rt.protect(func() {
		l := rt.l

		ferr := l.LoadBinary(in, name, 0)
		if ferr != nil {
			panic(ferr)
		}
		fn = &Function{ref{rt, rt.anchor()}}
	})
	if err != nil {
		return nil, err
	}
	return fn, nil
}

// Globals returns a handle to the global table.
func (rt *Runtime) Globals() (t *Table, err error) {
	err = rt.protect(func() {
		rt.l.PushIndex(lua.GlobalsIndex)
		t = &Table{ref{rt, rt.anchor()}}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTable creates a fresh, empty table and returns a handle to it. The sizes are
// preallocation hints for the array and hash parts, zero is always fine.
func (rt *Runtime) CreateTable(asize, hsize int) (t *Table, err error) {
	err = rt.protect(func() {
		rt.l.NewTable(asize, hsize)
		t = &Table{ref{rt, rt.anchor()}}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
