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

import "errors"
import "testing"

func TestScopeCallback(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	// The callback closes over a local. Without the scope this would be a lifetime
	// bug waiting to happen.
	err := rt.Scope(func(s *Scope) error {
		calls := 0
		f, err := s.CreateFunction(func(rt *Runtime, args Args) ([]Value, error) {
			calls++
			return []Value{int64(calls)}, nil
		})
		if err != nil {
			return err
		}
		setGlobal(t, rt, "f", f)
		f.Release()

		rtns, err := rt.Eval(`return f() + f()`)
		if err != nil {
			return err
		}
		assert(t, rtns[0] == int64(3), "Wrong result inside scope:", rtns[0])
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// The script still holds the function in a global, but the scope is over.
	_, err = rt.Eval(`return f()`)
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)

	// Catchable by script code; a stale value is an error, not a disaster.
	rtns, err := rt.Eval(`return (pcall(f))`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == false, "Stale callback error not catchable.")
	assertNeutral(t, rt)
}

func TestScopeUserData(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	c := &counter{}
	err := rt.Scope(func(s *Scope) error {
		u, err := s.CreateUserData(c)
		if err != nil {
			return err
		}
		setGlobal(t, rt, "c", u)
		u.Release() // The scope keeps its own grip, this must not matter.

		return rt.Exec(`c:inc(5)`)
	})
	if err != nil {
		t.Fatal(err)
	}
	assert(t, c.n == 5, "Wrong count:", c.n)

	_, err = rt.Eval(`return c:get()`)
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)
	assertNeutral(t, rt)
}

func TestScopeError(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	fail := errors.New("scope body failed")
	err := rt.Scope(func(s *Scope) error {
		f, err := s.CreateFunction(func(rt *Runtime, args Args) ([]Value, error) {
			return nil, nil
		})
		if err != nil {
			return err
		}
		setGlobal(t, rt, "f", f)
		f.Release()
		return fail
	})
	assert(t, err == fail, "Scope did not return the body's error:", err)

	// Cleanup ran anyway.
	_, err = rt.Eval(`return f()`)
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)
}

func TestScopePanic(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	func() {
		defer func() { recover() }()
		rt.Scope(func(s *Scope) error {
			f, err := s.CreateFunction(func(rt *Runtime, args Args) ([]Value, error) {
				return nil, nil
			})
			if err != nil {
				return err
			}
			setGlobal(t, rt, "f", f)
			f.Release()
			panic("scope body panicked")
		})
	}()

	// Cleanup ran anyway.
	_, err := rt.Eval(`return f()`)
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)
	assertNeutral(t, rt)
}

func TestScopeAfterEnd(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	var escaped *Scope
	err := rt.Scope(func(s *Scope) error {
		escaped = s
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = escaped.CreateFunction(func(rt *Runtime, args Args) ([]Value, error) {
		return nil, nil
	})
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)
}
