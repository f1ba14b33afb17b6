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

import "github.com/milochristiansen/lua"
import "github.com/milochristiansen/lua/luautil"

// refStore hands out the reference slots that anchor handle targets against
// collection. The values themselves live in the VM registry under integer keys (the
// registry only ever uses string keys for everything else, and integer keys land in the
// table's array part, so anchoring and dereferencing are plain array accesses with no
// hashing involved).
//
// Slots are recycled through a free list. The invariants that make this safe are
// one-owner-per-slot (a slot is freed exactly once, by the one handle that owns it) and
// single-threaded access (only Runtime operations touch the store). A recycled index
// can never be observed by a stale handle: releasing a handle is the only thing that
// frees its slot, and a released handle refuses all further operations.
type refStore struct {
	free []int
	next int // Next never-used slot. Slot numbering starts at 1.
	live int
}

func (s *refStore) alloc() int {
	s.live++
	if n := len(s.free); n > 0 {
		slot := s.free[n-1]
		s.free = s.free[:n-1]
		return slot
	}
	s.next++
	return s.next
}

func (s *refStore) release(slot int) {
	if s.live <= 0 {
		luautil.Raise("Reference slot freed with no live slots. Double free?", luautil.ErrTypMajorInternal)
	}
	s.live--
	s.free = append(s.free, slot)
}

// anchor pops the value on the top of the stack into a fresh slot and returns the slot
// index. Must be called from inside a protected frame.
func (rt *Runtime) anchor() int {
	slot := rt.refs.alloc()

	l := rt.l
	l.Push(int64(slot))
	l.Insert(-1) // Insert pops the key first, so -1 lands it directly under the value.
	l.SetTableRaw(lua.RegistryIndex)
	return slot
}

// pushSlot pushes the value anchored in the given slot. Must be called from inside a
// protected frame.
func (rt *Runtime) pushSlot(slot int) {
	l := rt.l
	l.Push(int64(slot))
	l.GetTableRaw(lua.RegistryIndex)
}

// releaseSlot drops the anchored value and recycles the slot. Called from the host side
// (handle Release), so it makes its own protected frame.
func (rt *Runtime) releaseSlot(slot int) {
	if rt.closed {
		return
	}

	err := rt.protect(func() {
		l := rt.l
		l.Push(int64(slot))
		l.Push(nil)
		l.SetTableRaw(lua.RegistryIndex)
	})
	if err != nil {
		// Clearing a registry slot cannot raise a script error.
		luautil.RaiseExisting(err, "Reference slot release failed.")
	}
	rt.refs.release(slot)
}

// ref is the common part of every handle type: the Runtime that owns the target value
// plus the slot anchoring it. Handles do not expose the slot index, and they do not own
// the Runtime, they just refuse to work if it is gone.
type ref struct {
	rt   *Runtime
	slot int
}

// check validates the handle before use.
func (r *ref) check() error {
	if r.rt == nil || r.slot <= 0 {
		return &Error{Kind: KindDestructed, Msg: "handle has been released"}
	}
	if r.rt.closed {
		return &Error{Kind: KindClosed}
	}
	return nil
}

// Release recycles the reference slot backing this handle. The handle is dead
// afterwards: every operation on it returns a KindDestructed error. Releasing an
// already-released handle does nothing.
//
// The value itself is only collected if nothing else (a script variable, the registry,
// another handle) still references it.
func (r *ref) Release() {
	if r.rt == nil || r.slot <= 0 {
		return
	}
	r.rt.releaseSlot(r.slot)
	r.slot = -1
}
