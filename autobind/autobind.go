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

/*
Generic script bindings for Go values, by reflection.

This API mostly ignores exact types, relying on "kinds" (reflect.Kind) instead. This
means that custom types will work fine. Pass New a pointer to the value you want to
expose; unless you pass a pointer the reflection library probably won't be able to
modify anything.

Structs expose their exported fields and exported methods. Maps expose their keys.
Slices and arrays are indexed from 1 (basically I just subtract one from all incoming
indexes; this is done to better fit with the rest of the language, not because I like
1-based indexing). The # operator works on slices, arrays, and maps.

Reading a field whose value is itself a slice, map, struct, or pointer produces a new
binding sharing the same underlying data, so nested assignments write through to the
original value. Assigning a table to such a field fills in as many keys of the existing
object as possible rather than replacing it.

The following kinds are not supported and read as nil: Complex64, Complex128, Chan,
Func (except as methods), UnsafePointer.

Note that this API is somewhat fragile. Things should "just work", but malformed input
is likely to result in lots of errors. Nothing should panic or otherwise crash, but
returned errors are entirely possible. Generally I assume you are feeding in good input
(from both sides).

When working with untrusted scripts be very careful what you expose with this API! Some
actions have the potential to trash the exposed data! Write a dedicated UserValue
implementation for anything that needs real access control.
*/
package autobind

import "errors"
import "fmt"
import "reflect"

import "github.com/milochristiansen/luasafe"

// Possible errors.
var ErrCantSet = errors.New("Cannot set given value.")
var ErrCantConv = errors.New("Conversion to given type not implemented.")
var ErrBadConv = errors.New("Conversion to required type not possible for this value.")

// Object is a reflection-driven binding of a single Go value. Create them with New and
// hand them to Runtime.CreateUserData (or Scope.CreateUserData).
type Object struct {
	v reflect.Value
}

// New wraps a Go value for exposure to scripts. 99% of the time you will want to pass
// the address of the item you want to work with, even if it is a type you would
// normally pass by value.
func New(obj interface{}) *Object {
	return &Object{v: reflect.ValueOf(obj)}
}

// TypeKey gives every bound Go type its own metatable, even though every Object is the
// same Go type.
func (o *Object) TypeKey() interface{} {
	return o.v.Type()
}

// DescribeType builds the generic metatable for the bound value's type.
func (o *Object) DescribeType(t *luasafe.UserType) {
	typ := o.v.Type()
	t.SetName(typ.String())

	// Pointer-receiver methods can mutate the value, so they are registered as
	// exclusive: re-entering one through a script callback is never safe for them.
	elem := typ
	if typ.Kind() == reflect.Ptr {
		elem = typ.Elem()
	}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if !m.IsExported() {
			continue
		}
		if _, shared := elem.MethodByName(m.Name); shared {
			t.AddMethod(m.Name, callMethod(m.Name))
		} else {
			t.AddExclusiveMethod(m.Name, callMethod(m.Name))
		}
	}

	t.AddMetaMethod(luasafe.MetaIndex, index)
	t.AddMetaMethod(luasafe.MetaNewIndex, newIndex)
	t.AddMetaMethod(luasafe.MetaLen, length)
	t.AddMetaMethod(luasafe.MetaToString, describe)
}

// indirect digs through pointers and interfaces to the value itself.
func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func callMethod(name string) luasafe.Method {
	return func(rt *luasafe.Runtime, self interface{}, args luasafe.Args) ([]luasafe.Value, error) {
		o := self.(*Object)
		m := o.v.MethodByName(name)
		if !m.IsValid() {
			return nil, fmt.Errorf("no method %v", name)
		}

		mt := m.Type()
		if !mt.IsVariadic() && len(args) != mt.NumIn() {
			return nil, fmt.Errorf("%v: %v arguments required, got %v", name, mt.NumIn(), len(args))
		}

		in := make([]reflect.Value, len(args))
		for i := range args {
			var at reflect.Type
			if mt.IsVariadic() && i >= mt.NumIn()-1 {
				at = mt.In(mt.NumIn() - 1).Elem()
			} else if i < mt.NumIn() {
				at = mt.In(i)
			} else {
				return nil, fmt.Errorf("%v: too many arguments", name)
			}

			a := reflect.New(at).Elem()
			if err := fromValue(a, args[i]); err != nil {
				return nil, fmt.Errorf("%v: argument %v: %w", name, i+1, err)
			}
			in[i] = a
		}

		out := m.Call(in)

		// A trailing error return becomes a script error.
		if n := len(out); n > 0 && out[n-1].Type() == reflect.TypeOf((*error)(nil)).Elem() {
			if !out[n-1].IsNil() {
				return nil, out[n-1].Interface().(error)
			}
			out = out[:n-1]
		}

		rtns := make([]luasafe.Value, 0, len(out))
		for _, ov := range out {
			v, err := toValue(rt, ov)
			if err != nil {
				return nil, err
			}
			rtns = append(rtns, v)
		}
		return rtns, nil
	}
}

func index(rt *luasafe.Runtime, self interface{}, args luasafe.Args) ([]luasafe.Value, error) {
	o := self.(*Object)
	v := indirect(o.v)
	if !v.IsValid() {
		return []luasafe.Value{nil}, nil
	}

	switch v.Kind() {
	case reflect.Struct:
		name, err := args.String(0)
		if err != nil {
			return nil, err
		}
		f := v.FieldByName(name)
		if !f.IsValid() {
			return []luasafe.Value{nil}, nil
		}
		r, err := toValue(rt, f)
		if err != nil {
			return nil, err
		}
		return []luasafe.Value{r}, nil
	case reflect.Map:
		k := reflect.New(v.Type().Key()).Elem()
		if err := fromValue(k, args.Value(0)); err != nil {
			return nil, err
		}
		e := v.MapIndex(k)
		if !e.IsValid() {
			return []luasafe.Value{nil}, nil
		}
		r, err := toValue(rt, e)
		if err != nil {
			return nil, err
		}
		return []luasafe.Value{r}, nil
	case reflect.Slice, reflect.Array:
		i, err := args.Int(0)
		if err != nil {
			return nil, err
		}
		if i < 1 || i > int64(v.Len()) {
			return []luasafe.Value{nil}, nil
		}
		r, err := toValue(rt, v.Index(int(i-1)))
		if err != nil {
			return nil, err
		}
		return []luasafe.Value{r}, nil
	}
	return []luasafe.Value{nil}, nil
}

func newIndex(rt *luasafe.Runtime, self interface{}, args luasafe.Args) ([]luasafe.Value, error) {
	o := self.(*Object)
	v := indirect(o.v)
	if !v.IsValid() {
		return nil, ErrCantSet
	}

	switch v.Kind() {
	case reflect.Struct:
		name, err := args.String(0)
		if err != nil {
			return nil, err
		}
		f := v.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			return nil, ErrCantSet
		}
		return nil, fromValue(f, args.Value(1))
	case reflect.Map:
		k := reflect.New(v.Type().Key()).Elem()
		if err := fromValue(k, args.Value(0)); err != nil {
			return nil, err
		}
		e := reflect.New(v.Type().Elem()).Elem()
		if err := fromValue(e, args.Value(1)); err != nil {
			return nil, err
		}
		v.SetMapIndex(k, e)
		return nil, nil
	case reflect.Slice, reflect.Array:
		i, err := args.Int(0)
		if err != nil {
			return nil, err
		}
		// Writing to the key one past the end of a slice appends.
		if v.Kind() == reflect.Slice && i == int64(v.Len())+1 && v.CanSet() {
			e := reflect.New(v.Type().Elem()).Elem()
			if err := fromValue(e, args.Value(1)); err != nil {
				return nil, err
			}
			v.Set(reflect.Append(v, e))
			return nil, nil
		}
		if i < 1 || i > int64(v.Len()) {
			return nil, ErrCantSet
		}
		return nil, fromValue(v.Index(int(i-1)), args.Value(1))
	}
	return nil, ErrCantSet
}

func length(rt *luasafe.Runtime, self interface{}, args luasafe.Args) ([]luasafe.Value, error) {
	v := indirect(self.(*Object).v)
	if !v.IsValid() {
		return []luasafe.Value{int64(0)}, nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return []luasafe.Value{int64(v.Len())}, nil
	}
	return []luasafe.Value{int64(0)}, nil
}

func describe(rt *luasafe.Runtime, self interface{}, args luasafe.Args) ([]luasafe.Value, error) {
	return []luasafe.Value{fmt.Sprintf("%v", self.(*Object).v.Type())}, nil
}

// toValue converts a Go value to a script value, binding complex values by reference.
func toValue(rt *luasafe.Runtime, v reflect.Value) (luasafe.Value, error) {
	if !v.IsValid() {
		return nil, nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return bind(rt, v)
	case reflect.Slice, reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		return bind(rt, v)
	case reflect.Struct, reflect.Array:
		return bind(rt, v)
	}
	return nil, nil
}

// bind wraps a nested value, preferring its address so writes reach the original.
func bind(rt *luasafe.Runtime, v reflect.Value) (luasafe.Value, error) {
	if v.Kind() != reflect.Ptr && v.CanAddr() {
		v = v.Addr()
	}
	return rt.CreateUserData(&Object{v: v})
}

// fromValue stores a script value in the given reflect.Value if possible. If the
// reflect.Value cannot hold the requested script value you will get an error. Note
// that the reflect.Value may have been modified! Not all errors happen immediately:
// for example if you are assigning a table to a map, some of the key/value pairs may
// have been added before the "bad" key was found.
func fromValue(dest reflect.Value, v luasafe.Value) error {
	if !dest.CanSet() {
		return ErrCantSet
	}

	// Auto-vivify nil pointers so assignment through them works.
	if dest.Kind() == reflect.Ptr {
		if dest.IsNil() {
			dest.Set(reflect.New(dest.Type().Elem()))
		}
		return fromValue(dest.Elem(), v)
	}

	// An already-bound value of the right type assigns directly.
	if u, ok := v.(*luasafe.AnyUserData); ok {
		raw, err := u.Value()
		if err != nil {
			return err
		}
		o, ok := raw.(*Object)
		if !ok {
			return ErrBadConv
		}
		src := indirect(o.v)
		if !src.IsValid() || src.Type() != dest.Type() {
			return ErrBadConv
		}
		dest.Set(src)
		return nil
	}

	if t, ok := v.(*luasafe.Table); ok {
		return fromTable(dest, t)
	}

	switch dest.Kind() {
	case reflect.String:
		switch v2 := v.(type) {
		case string:
			dest.SetString(v2)
			return nil
		case int64:
			dest.SetString(fmt.Sprintf("%v", v2))
			return nil
		case float64:
			dest.SetString(fmt.Sprintf("%v", v2))
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v2 := v.(type) {
		case int64:
			dest.SetInt(v2)
			return nil
		case float64:
			if v2 == float64(int64(v2)) {
				dest.SetInt(int64(v2))
				return nil
			}
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		switch v2 := v.(type) {
		case int64:
			if v2 >= 0 {
				dest.SetUint(uint64(v2))
				return nil
			}
		case float64:
			if v2 >= 0 && v2 == float64(int64(v2)) {
				dest.SetUint(uint64(v2))
				return nil
			}
		}
	case reflect.Float32, reflect.Float64:
		switch v2 := v.(type) {
		case float64:
			dest.SetFloat(v2)
			return nil
		case int64:
			dest.SetFloat(float64(v2))
			return nil
		}
	case reflect.Bool:
		if v2, ok := v.(bool); ok {
			dest.SetBool(v2)
			return nil
		}
	case reflect.Interface:
		if v == nil {
			dest.Set(reflect.Zero(dest.Type()))
			return nil
		}
		rv := reflect.ValueOf(v)
		if rv.Type().AssignableTo(dest.Type()) {
			dest.Set(rv)
			return nil
		}
	}

	if v == nil {
		dest.Set(reflect.Zero(dest.Type()))
		return nil
	}
	return ErrBadConv
}

// fromTable fills an existing slice, map, or struct from a table. Based on the same
// general idea as "encoding/json" unmarshaling, but much dumber.
func fromTable(dest reflect.Value, t *luasafe.Table) error {
	switch dest.Kind() {
	case reflect.Slice:
		n, err := t.RawLen()
		if err != nil {
			return err
		}
		if int(n) > dest.Len() {
			grown := reflect.MakeSlice(dest.Type(), int(n), int(n))
			reflect.Copy(grown, dest)
			dest.Set(grown)
		}
		for i := int64(1); i <= n; i++ {
			v, err := t.Get(i)
			if err != nil {
				return err
			}
			err = fromValue(dest.Index(int(i-1)), v)
			releaseIfHandle(v)
			if err != nil {
				return err
			}
		}
		return nil
	case reflect.Array:
		n, err := t.RawLen()
		if err != nil {
			return err
		}
		if int(n) > dest.Len() {
			n = int64(dest.Len()) // Extra items are simply ignored.
		}
		for i := int64(1); i <= n; i++ {
			v, err := t.Get(i)
			if err != nil {
				return err
			}
			err = fromValue(dest.Index(int(i-1)), v)
			releaseIfHandle(v)
			if err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if dest.IsNil() {
			dest.Set(reflect.MakeMap(dest.Type()))
		}
		kt := dest.Type().Key()
		vt := dest.Type().Elem()
		return t.ForEach(func(k, v luasafe.Value) error {
			kv := reflect.New(kt).Elem()
			if err := fromValue(kv, k); err != nil {
				return err
			}
			vv := reflect.New(vt).Elem()
			if err := fromValue(vv, v); err != nil {
				return err
			}
			dest.SetMapIndex(kv, vv)
			return nil
		})
	case reflect.Struct:
		dt := dest.Type()
		for i := 0; i < dest.NumField(); i++ {
			fi := dt.Field(i)
			if !fi.IsExported() {
				continue
			}
			v, err := t.Get(fi.Name)
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			err = fromValue(dest.Field(i), v)
			releaseIfHandle(v)
			if err != nil {
				return err
			}
		}
		return nil
	}
	return ErrBadConv
}

func releaseIfHandle(v luasafe.Value) {
	if r, ok := v.(interface{ Release() }); ok {
		r.Release()
	}
}
