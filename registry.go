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

import "runtime"
import "strings"

import "github.com/milochristiansen/lua"

// RegistryKey is an opaque key to a value stored in the VM registry. Unlike a handle,
// a RegistryKey does not pin the value against Runtime bookkeeping you can mess up:
// the key is the only way to reach the value, and dropping the key (letting the GC
// have it) queues the value for removal on the next ExpireRegistryValues sweep.
//
// Keys are only meaningful to the Runtime that created them; any other Runtime rejects
// them with a KindMismatched error.
type RegistryKey struct {
	rt       *Runtime
	id       int
	released bool
}

// CreateRegistryValue stores a value in the registry and returns a key for it. The
// value is unreachable from scripts, this is purely host-side storage inside the VM.
func (rt *Runtime) CreateRegistryValue(v Value) (*RegistryKey, error) {
	if rt.closed {
		return nil, &Error{Kind: KindClosed}
	}

	id := rt.regNext
	if n := len(rt.regFree); n > 0 {
		id = rt.regFree[n-1]
	}

	err := rt.protect(func() {
		l := rt.l
		l.Push(regValuesName)
		l.GetTableRaw(lua.RegistryIndex)
		l.Push(int64(id))
		rt.pushValue(v)
		l.SetTableRaw(-3)
		l.Pop(1)
	})
	if err != nil {
		return nil, err
	}

	// Commit the ID only now: a failed store must not leak or recycle it.
	if n := len(rt.regFree); n > 0 {
		rt.regFree = rt.regFree[:n-1]
	} else {
		rt.regNext++
	}

	k := &RegistryKey{rt: rt, id: id}
	runtime.SetFinalizer(k, func(k *RegistryKey) {
		rt.unref.Lock()
		rt.unref.ids = append(rt.unref.ids, k.id)
		rt.unref.Unlock()
	})
	return k, nil
}

func (rt *Runtime) checkKey(k *RegistryKey) error {
	if k.rt != rt {
		return &Error{Kind: KindMismatched}
	}
	if k.released {
		return &Error{Kind: KindDestructed, Msg: "registry key has been removed"}
	}
	if rt.closed {
		return &Error{Kind: KindClosed}
	}
	return nil
}

// RegistryValue returns the value stored under a key. Reference-typed values come back
// as fresh handles owned by the caller.
func (rt *Runtime) RegistryValue(k *RegistryKey) (v Value, err error) {
	if err := rt.checkKey(k); err != nil {
		return nil, err
	}

	err = rt.protect(func() {
		l := rt.l
		l.Push(regValuesName)
		l.GetTableRaw(lua.RegistryIndex)
		l.Push(int64(k.id))
		l.GetTableRaw(-2)
		v = rt.readValue(-1)
		l.Pop(2)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// RemoveRegistryValue removes the value stored under a key, immediately. The key is
// dead afterwards. This is the eager alternative to dropping the key and waiting for
// an ExpireRegistryValues sweep.
func (rt *Runtime) RemoveRegistryValue(k *RegistryKey) error {
	if err := rt.checkKey(k); err != nil {
		return err
	}

	err := rt.protect(func() {
		l := rt.l
		l.Push(regValuesName)
		l.GetTableRaw(lua.RegistryIndex)
		l.Push(int64(k.id))
		l.Push(nil)
		l.SetTableRaw(-3)
		l.Pop(1)
	})
	if err != nil {
		return err
	}

	runtime.SetFinalizer(k, nil)
	k.released = true
	rt.regFree = append(rt.regFree, k.id)
	return nil
}

// OwnsRegistryValue reports whether this Runtime created the key and the key is still
// valid.
func (rt *Runtime) OwnsRegistryValue(k *RegistryKey) bool {
	return k.rt == rt && !k.released
}

// ExpireRegistryValues removes the values belonging to registry keys that were dropped
// without RemoveRegistryValue, and returns how many were removed. Dropped keys
// accumulate (their IDs are parked by a finalizer, which may run on any goroutine, so
// this is the one place the Runtime takes a lock) until the host gets around to
// calling this. Calling it again without new drops removes nothing.
func (rt *Runtime) ExpireRegistryValues() (int, error) {
	if rt.closed {
		return 0, &Error{Kind: KindClosed}
	}

	rt.unref.Lock()
	ids := rt.unref.ids
	rt.unref.ids = nil
	rt.unref.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}

	err := rt.protect(func() {
		l := rt.l
		l.Push(regValuesName)
		l.GetTableRaw(lua.RegistryIndex)
		for _, id := range ids {
			l.Push(int64(id))
			l.Push(nil)
			l.SetTableRaw(-3)
		}
		l.Pop(1)
	})
	if err != nil {
		// Put the IDs back rather than leak the slots.
		rt.unref.Lock()
		rt.unref.ids = append(rt.unref.ids, ids...)
		rt.unref.Unlock()
		return 0, err
	}

	rt.regFree = append(rt.regFree, ids...)
	return len(ids), nil
}

// SetNamedRegistryValue stores a value in the registry under a name of your choosing.
// Setting nil removes the entry. Names starting with "luasafe." are reserved.
func (rt *Runtime) SetNamedRegistryValue(name string, v Value) error {
	if strings.HasPrefix(name, "luasafe.") {
		return &Error{Kind: KindArgument, Msg: `registry names starting with "luasafe." are reserved`}
	}

	return rt.protect(func() {
		l := rt.l
		l.Push(name)
		rt.pushValue(v)
		l.SetTableRaw(lua.RegistryIndex)
	})
}

// NamedRegistryValue returns the value stored under a name, nil if there is none.
func (rt *Runtime) NamedRegistryValue(name string) (v Value, err error) {
	if strings.HasPrefix(name, "luasafe.") {
		return nil, &Error{Kind: KindArgument, Msg: `registry names starting with "luasafe." are reserved`}
	}

	err = rt.protect(func() {
		l := rt.l
		l.Push(name)
		l.GetTableRaw(lua.RegistryIndex)
		v = rt.readValue(-1)
		l.Pop(1)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
