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

import "reflect"

import "github.com/milochristiansen/lua"
import "github.com/milochristiansen/lua/luautil"

// MetaName names a metamethod that a user type may implement.
type MetaName string

// The metamethods user types may implement. Dispatch is on the first operand: for
// binary operators the userdata must be the left operand or the script gets the usual
// "no such metamethod" error.
const (
	MetaAdd      MetaName = "__add"
	MetaSub      MetaName = "__sub"
	MetaMul      MetaName = "__mul"
	MetaDiv      MetaName = "__div"
	MetaMod      MetaName = "__mod"
	MetaPow      MetaName = "__pow"
	MetaUnm      MetaName = "__unm"
	MetaIDiv     MetaName = "__idiv"
	MetaBAnd     MetaName = "__band"
	MetaBOr      MetaName = "__bor"
	MetaBXor     MetaName = "__bxor"
	MetaBNot     MetaName = "__bnot"
	MetaShl      MetaName = "__shl"
	MetaShr      MetaName = "__shr"
	MetaConcat   MetaName = "__concat"
	MetaLen      MetaName = "__len"
	MetaEq       MetaName = "__eq"
	MetaLt       MetaName = "__lt"
	MetaLe       MetaName = "__le"
	MetaIndex    MetaName = "__index"
	MetaNewIndex MetaName = "__newindex"
	MetaCall     MetaName = "__call"
	MetaToString MetaName = "__tostring"
)

// destructedMetaEntries is every metamethod the destructed sentinel metatable traps.
var destructedMetaEntries = []string{
	"__add", "__sub", "__mul", "__div", "__mod", "__pow", "__unm", "__idiv",
	"__band", "__bor", "__bxor", "__bnot", "__shl", "__shr",
	"__concat", "__len", "__eq", "__lt", "__le",
	"__index", "__newindex", "__call", "__tostring",
}

// Method is a host method on a user type. self is the UserValue the method was invoked
// on, already checked for liveness and runtime identity.
type Method func(rt *Runtime, self interface{}, args Args) ([]Value, error)

// UserValue is implemented by Go types that want to be exposed to scripts as userdata.
//
// DescribeType is called once per Go type per Runtime to build the type's metatable;
// the result is cached and shared by every userdata of that type.
type UserValue interface {
	DescribeType(t *UserType)
}

// TypeKeyer may optionally be implemented by a UserValue whose metatable should be
// cached under something other than its Go type. Wrapper types that describe many
// different underlying types (see the autobind package) need this, otherwise every
// wrapped value would share one metatable.
type TypeKeyer interface {
	TypeKey() interface{}
}

// UserType collects the description of one user type: a name, ordinary methods, and
// metamethods. Methods registered as exclusive refuse re-entrant invocation with a
// KindRecursive error, mirroring CreateExclusiveFunction.
type UserType struct {
	name    string
	methods map[string]*methodDef
	metas   map[MetaName]*methodDef
}

type methodDef struct {
	m         Method
	exclusive bool
}

// SetName sets the name reported by AnyUserData.TypeName. Defaults to the Go type
// name.
func (t *UserType) SetName(name string) {
	t.name = name
}

// AddMethod registers an ordinary method, callable as ud:name(...).
func (t *UserType) AddMethod(name string, m Method) {
	t.methods[name] = &methodDef{m: m}
}

// AddExclusiveMethod registers a method that must never be re-entered (for methods
// that mutate the underlying value and call back into script code).
func (t *UserType) AddExclusiveMethod(name string, m Method) {
	t.methods[name] = &methodDef{m: m, exclusive: true}
}

// AddMetaMethod registers a metamethod implementation.
func (t *UserType) AddMetaMethod(name MetaName, m Method) {
	t.metas[name] = &methodDef{m: m}
}

// userTypeInfo is the built, per-Runtime form of a UserType.
type userTypeInfo struct {
	name     string
	metaSlot int
}

// userDataBox sits between the VM and the host value. The script-side userdata wraps
// the box, never the value directly, so the value can be taken away (scope exit, Take,
// Runtime close) regardless of how many script references to the userdata remain.
type userDataBox struct {
	rt   *Runtime
	info *userTypeInfo

	data       interface{}
	busy       bool
	destructed bool
}

func (b *userDataBox) destruct() {
	b.data = nil
	b.busy = false
	b.destructed = true
}

// typeInfo returns the cached metatable info for v's type, building it on first use.
func (rt *Runtime) typeInfo(v UserValue) (*userTypeInfo, error) {
	var key interface{} = reflect.TypeOf(v)
	if tk, ok := v.(TypeKeyer); ok {
		key = tk.TypeKey()
	}
	if ti, ok := rt.types[key]; ok {
		return ti, nil
	}

	ut := &UserType{
		name:    reflect.TypeOf(v).String(),
		methods: make(map[string]*methodDef),
		metas:   make(map[MetaName]*methodDef),
	}
	v.DescribeType(ut)

	ti := &userTypeInfo{name: ut.name}
	err := rt.protect(func() {
		l := rt.l
		l.NewTable(0, len(ut.metas)+1)

		// __index: the method table, with the user's MetaIndex (if any) as fallback.
		l.Push("__index")
		rt.pushIndexImpl(ut)
		l.SetTableRaw(-3)

		for name, def := range ut.metas {
			if name == MetaIndex {
				continue // Folded into the __index implementation above.
			}
			l.Push(string(name))
			l.Push(rt.methodTrampoline(def))
			l.SetTableRaw(-3)
		}

		ti.metaSlot = rt.anchor()
	})
	if err != nil {
		return nil, err
	}

	rt.types[key] = ti
	return ti, nil
}

// pushIndexImpl pushes the __index implementation for a user type: a plain method
// table when there is no custom __index metamethod, and a dispatch function that falls
// back to the custom one when there is.
func (rt *Runtime) pushIndexImpl(ut *UserType) {
	l := rt.l

	if _, ok := ut.metas[MetaIndex]; !ok {
		l.NewTable(0, len(ut.methods))
		for name, def := range ut.methods {
			l.Push(name)
			l.Push(rt.methodTrampoline(def))
			l.SetTableRaw(-3)
		}
		return
	}

	methods := ut.methods
	fallback := rt.methodTrampoline(ut.metas[MetaIndex])
	l.Push(func(l *lua.State) int {
		if l.TypeOf(2) == lua.TypString {
			if def, ok := methods[l.GetRaw(2).(string)]; ok {
				l.Push(rt.methodTrampoline(def))
				return 1
			}
		}
		return fallback(l)
	})
}

// methodTrampoline is the userdata analog of the callback trampoline: check liveness,
// marshal, invoke under the host panic guard, translate the outcome.
func (rt *Runtime) methodTrampoline(def *methodDef) lua.NativeFunction {
	return func(l *lua.State) int {
		n := l.AbsIndex(-1)
		if n < 1 || l.TypeOf(1) != lua.TypUserData {
			panic(&Error{Kind: KindArgument, Msg: "method requires a userdata receiver"})
		}
		box, ok := l.ToUser(1).(*userDataBox)
		if !ok {
			panic(&Error{Kind: KindArgument, Msg: "receiver is not managed by this package"})
		}
		if box.rt != rt {
			panic(&Error{Kind: KindMismatched})
		}
		if box.destructed {
			panic(&Error{Kind: KindDestructed})
		}
		if def.exclusive && box.busy {
			// Checked before marshaling so the error path anchors no argument slots.
			panic(&Error{Kind: KindRecursive, Msg: "exclusive method called recursively"})
		}

		args := make(Args, 0, n-1)
		for i := 2; i <= n; i++ {
			args = append(args, rt.readValue(i))
		}

		rtns, err := rt.invokeMethod(def, box, args)
		return rt.finishCall(rtns, err)
	}
}

func (rt *Runtime) invokeMethod(def *methodDef, box *userDataBox, args Args) (rtns []Value, err error) {
	if def.exclusive {
		box.busy = true
		defer func() { box.busy = false }()
	}
	defer hostPanicGuard()
	return def.m(rt, box.data, args)
}

// makeDestructedMeta builds the shared sentinel metatable installed on destructed
// userdata. Every entry raises a KindDestructed error; nothing can dispatch into the
// (gone) host value anymore.
func (rt *Runtime) makeDestructedMeta() int {
	raise := func(l *lua.State) int {
		panic(&Error{Kind: KindDestructed})
	}

	var slot int
	err := rt.protect(func() {
		l := rt.l
		l.NewTable(0, len(destructedMetaEntries))
		for _, name := range destructedMetaEntries {
			l.Push(name)
			l.Push(lua.NativeFunction(raise))
			l.SetTableRaw(-3)
		}
		slot = rt.anchor()
	})
	if err != nil {
		luautil.RaiseExisting(err, "Building the destructed sentinel metatable failed.")
	}
	return slot
}

// AnyUserData is a handle to a script-visible userdata value.
type AnyUserData struct {
	ref
	box *userDataBox
}

// CreateUserData exposes a host value to scripts as a userdata with the metatable
// described by its DescribeType method.
func (rt *Runtime) CreateUserData(v UserValue) (*AnyUserData, error) {
	u, _, err := rt.createUserData(v, false)
	return u, err
}

// createUserData optionally anchors a second, package-internal slot for the userdata
// (the Scope mechanism needs its own grip on the value, one the caller cannot Release
// out from under it).
func (rt *Runtime) createUserData(v UserValue, extraSlot bool) (*AnyUserData, int, error) {
	ti, err := rt.typeInfo(v)
	if err != nil {
		return nil, 0, err
	}

	box := &userDataBox{rt: rt, info: ti, data: v}
	var u *AnyUserData
	extra := 0
	err = rt.protect(func() {
		l := rt.l
		l.Push(box)
		rt.pushSlot(ti.metaSlot)
		l.SetMetaTable(-2)
		if extraSlot {
			l.PushIndex(-1)
			extra = rt.anchor()
		}
		u = &AnyUserData{ref{rt, rt.anchor()}, box}
	})
	if err != nil {
		return nil, 0, err
	}

	rt.boxes[box] = struct{}{}
	return u, extra, nil
}

// TypeName returns the name of the user type behind this handle, or "userdata" for
// values this package did not create.
func (u *AnyUserData) TypeName() string {
	if u.box == nil || u.box.info == nil {
		return "userdata"
	}
	return u.box.info.name
}

// Destructed reports whether the value behind this handle has been destructed.
func (u *AnyUserData) Destructed() bool {
	return u.box != nil && u.box.destructed
}

// Value returns the host value behind this handle. Destructed userdata produce a
// KindDestructed error; any type assertion on the result will also fail cleanly since
// there is no result.
func (u *AnyUserData) Value() (interface{}, error) {
	if err := u.check(); err != nil {
		return nil, err
	}
	if u.box == nil {
		return nil, &Error{Kind: KindConversion, Msg: "userdata was not created by this package"}
	}
	if u.box.destructed {
		return nil, &Error{Kind: KindDestructed}
	}
	return u.box.data, nil
}

// Take removes the host value from the userdata and returns it. The userdata itself
// remains visible to scripts in the destructed state: its metatable is swapped for the
// sentinel and every later access raises a KindDestructed error. This is the explicit
// analog of garbage collection for userdata, use it when the host needs its value back
// before the script world is done.
func (u *AnyUserData) Take() (interface{}, error) {
	if err := u.check(); err != nil {
		return nil, err
	}
	if u.box == nil {
		return nil, &Error{Kind: KindConversion, Msg: "userdata was not created by this package"}
	}
	if u.box.destructed {
		return nil, &Error{Kind: KindDestructed}
	}
	return u.rt.destructUserData(u.slot, u.box)
}

// destructUserData is the shared destruction path: pull the host value, mark the box,
// and swap in the sentinel metatable. The box is always invalidated, even if the VM
// side of the operation fails; better a value that errors than a value that dangles.
func (rt *Runtime) destructUserData(slot int, box *userDataBox) (data interface{}, err error) {
	data = box.data

	err = rt.protect(func() {
		l := rt.l
		rt.pushSlot(slot)
		rt.pushSlot(rt.destructedMeta)
		l.SetMetaTable(-2)
		l.Pop(1)
	})

	box.destruct()
	delete(rt.boxes, box)
	return data, err
}
