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

import "github.com/milochristiansen/lua"

// Value is any value that can cross the boundary between host and script.
//
// Going in (arguments, table keys and values, callback results) the following types
// are accepted:
//
//	nil
//	bool
//	int, int32, int64
//	float32, float64
//	string
//	*Table, *Function, *AnyUserData (handles from the same Runtime)
//
// Anything else produces a KindConversion error. Coming out, numbers are always int64
// or float64, and reference types are always fresh handles that you own (and should
// Release).
//
// Script strings are host strings: the VM stores them as native Go string values, so
// equality is byte-content equality and they are usable as map keys with no extra
// machinery.
type Value interface{}

// String is the script string type. It is a plain Go string; the alias exists purely so
// code can name the concept.
type String = string

// pushValue pushes a host value onto the value stack, raising a structured error for
// anything that has no script representation. Must be called from inside a protected
// frame.
func (rt *Runtime) pushValue(v Value) {
	l := rt.l

	switch v2 := v.(type) {
	case nil, bool, int, int32, int64, float32, float64, string:
		l.Push(v2)
	case *Table:
		rt.pushHandle(&v2.ref)
	case *Function:
		rt.pushHandle(&v2.ref)
	case *AnyUserData:
		rt.pushHandle(&v2.ref)
	default:
		panic(&Error{Kind: KindConversion, Msg: fmt.Sprintf("no script representation for %T", v)})
	}
}

func (rt *Runtime) pushHandle(r *ref) {
	if r.rt != rt {
		panic(&Error{Kind: KindMismatched})
	}
	if r.slot <= 0 {
		panic(&Error{Kind: KindDestructed, Msg: "handle has been released"})
	}
	rt.pushSlot(r.slot)
}

// readValue converts the value at the given stack index to a host value, anchoring a
// fresh handle for reference types. The stack is left untouched. Must be called from
// inside a protected frame.
func (rt *Runtime) readValue(i int) Value {
	l := rt.l

	switch l.TypeOf(i) {
	case lua.TypNil:
		return nil
	case lua.TypBool:
		return l.ToBool(i)
	case lua.TypNumber:
		if l.SubTypeOf(i) == lua.STypFloat {
			return l.ToFloat(i)
		}
		return l.ToInt(i)
	case lua.TypString:
		return l.GetRaw(i).(string)
	case lua.TypTable:
		l.PushIndex(i)
		return &Table{ref{rt, rt.anchor()}}
	case lua.TypFunction:
		l.PushIndex(i)
		return &Function{ref{rt, rt.anchor()}}
	case lua.TypUserData:
		box, _ := l.ToUser(i).(*userDataBox)
		l.PushIndex(i)
		return &AnyUserData{ref{rt, rt.anchor()}, box}
	default:
		return nil
	}
}
