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

// Scope creates callbacks and userdata with a bounded lifetime. Everything created
// through a Scope is destructed when the scope body returns, which means the callbacks
// may close over (and userdata may wrap) values that do not live as long as the
// Runtime: stack variables, request-scoped state, open resources.
//
// Scripts can still hold references to scope-created values after the scope ends (stash
// the function in a global, say), but every use of such a stale value raises a
// KindDestructed error. A normal, catchable script error; nothing dangles.
type Scope struct {
	rt *Runtime

	cells []*callbackCell
	uds   []scopedUD

	done bool
}

type scopedUD struct {
	box  *userDataBox
	slot int // Package-internal anchor, survives the caller releasing their handle.
}

// Scope runs f with a fresh Scope and destructs everything the scope created when f
// returns, whether normally, with an error, or by panic.
func (rt *Runtime) Scope(f func(s *Scope) error) error {
	if rt.closed {
		return &Error{Kind: KindClosed}
	}

	s := &Scope{rt: rt}
	defer s.leave()
	return f(s)
}

// leave invalidates everything the scope created, in reverse creation order.
func (s *Scope) leave() {
	s.done = true

	for i := len(s.uds) - 1; i >= 0; i-- {
		ud := s.uds[i]
		if !ud.box.destructed {
			// Best effort: the box is invalidated even if swapping the sentinel
			// metatable fails (closed Runtime, mostly).
			s.rt.destructUserData(ud.slot, ud.box)
		}
		s.rt.releaseSlot(ud.slot)
	}
	s.uds = nil

	for i := len(s.cells) - 1; i >= 0; i-- {
		cell := s.cells[i]
		cell.destruct()
		delete(s.rt.cells, cell)
	}
	s.cells = nil
}

func (s *Scope) check() error {
	if s.done {
		return &Error{Kind: KindDestructed, Msg: "scope has ended"}
	}
	if s.rt.closed {
		return &Error{Kind: KindClosed}
	}
	return nil
}

// CreateFunction is Runtime.CreateFunction with the callback's lifetime bounded by the
// scope.
func (s *Scope) CreateFunction(fn Callback) (*Function, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	f, cell, err := s.rt.createCallback(fn, false)
	if err != nil {
		return nil, err
	}
	s.cells = append(s.cells, cell)
	return f, nil
}

// CreateExclusiveFunction is Runtime.CreateExclusiveFunction with the callback's
// lifetime bounded by the scope.
func (s *Scope) CreateExclusiveFunction(fn Callback) (*Function, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	f, cell, err := s.rt.createCallback(fn, true)
	if err != nil {
		return nil, err
	}
	s.cells = append(s.cells, cell)
	return f, nil
}

// CreateUserData is Runtime.CreateUserData with the value's lifetime bounded by the
// scope: at scope exit the value is destructed exactly as if Take had been called on
// it (except the value is dropped, not returned).
func (s *Scope) CreateUserData(v UserValue) (*AnyUserData, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	u, slot, err := s.rt.createUserData(v, true)
	if err != nil {
		return nil, err
	}
	s.uds = append(s.uds, scopedUD{box: u.box, slot: slot})
	return u, nil
}
