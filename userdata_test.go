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

import "testing"

type counter struct {
	n int64
}

func (c *counter) DescribeType(t *UserType) {
	t.SetName("counter")

	t.AddMethod("inc", func(rt *Runtime, self interface{}, args Args) ([]Value, error) {
		by, err := args.Int(0)
		if err != nil {
			by = 1
		}
		self.(*counter).n += by
		return nil, nil
	})
	t.AddMethod("get", func(rt *Runtime, self interface{}, args Args) ([]Value, error) {
		return []Value{self.(*counter).n}, nil
	})

	t.AddMetaMethod(MetaAdd, func(rt *Runtime, self interface{}, args Args) ([]Value, error) {
		by, err := args.Int(0)
		if err != nil {
			return nil, err
		}
		return []Value{self.(*counter).n + by}, nil
	})
	t.AddMetaMethod(MetaToString, func(rt *Runtime, self interface{}, args Args) ([]Value, error) {
		return []Value{"counter"}, nil
	})
}

func TestUserDataMethods(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	c := &counter{}
	u, err := rt.CreateUserData(c)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, u.TypeName() == "counter", "Wrong type name:", u.TypeName())
	setGlobal(t, rt, "c", u)

	err = rt.Exec(`c:inc(); c:inc(2); c:inc()`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, c.n == 4, "Wrong count:", c.n)

	rtns, err := rt.Eval(`return c:get()`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == int64(4), "Wrong script-side count:", rtns[0])

	v, err := u.Value()
	if err != nil {
		t.Fatal(err)
	}
	assert(t, v == c, "Value did not round trip.")
	u.Release()
	assertNeutral(t, rt)
}

func TestUserDataMetaMethods(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	u, err := rt.CreateUserData(&counter{n: 40})
	if err != nil {
		t.Fatal(err)
	}
	setGlobal(t, rt, "c", u)
	u.Release()

	rtns, err := rt.Eval(`return c + 2, tostring(c)`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == int64(42), "__add failed:", rtns[0])
	assert(t, rtns[1] == "counter", "__tostring failed:", rtns[1])
	assertNeutral(t, rt)
}

func TestUserDataIdentity(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	u, err := rt.CreateUserData(&counter{})
	if err != nil {
		t.Fatal(err)
	}
	defer u.Release()

	// The same handle pushed twice must be the same script value, not a copy.
	setGlobal(t, rt, "a", u)
	setGlobal(t, rt, "b", u)
	rtns, err := rt.Eval(`return a == b`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == true, "Userdata identity lost.")
}

func TestUserDataTake(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	c := &counter{n: 7}
	u, err := rt.CreateUserData(c)
	if err != nil {
		t.Fatal(err)
	}
	setGlobal(t, rt, "c", u)

	v, err := u.Take()
	if err != nil {
		t.Fatal(err)
	}
	assert(t, v == c, "Take returned the wrong value.")
	assert(t, u.Destructed(), "Handle does not know the value is gone.")

	// The script still sees the userdata, but every use errors.
	_, err = rt.Eval(`return c:get()`)
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)

	rtns, err := rt.Eval(`return pcall(function() return c:get() end)`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == false, "Destructed error not catchable by pcall.")

	// And so does the host side.
	_, err = u.Value()
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)
	_, err = u.Take()
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)

	u.Release()
	assertNeutral(t, rt)
}

func TestUserDataCrossRuntime(t *testing.T) {
	rt1 := New(nil)
	defer rt1.Close()
	rt2 := New(nil)
	defer rt2.Close()

	u, err := rt1.CreateUserData(&counter{})
	if err != nil {
		t.Fatal(err)
	}
	defer u.Release()

	g, err := rt2.Globals()
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	err = g.Set("c", u)
	assertf(t, IsKind(err, KindMismatched), "Expected a mismatched error, got: %v", err)
	assertNeutral(t, rt1)
	assertNeutral(t, rt2)
}

type indexable struct{}

func (indexable) DescribeType(t *UserType) {
	t.AddMethod("real", func(rt *Runtime, self interface{}, args Args) ([]Value, error) {
		return []Value{"method"}, nil
	})
	t.AddMetaMethod(MetaIndex, func(rt *Runtime, self interface{}, args Args) ([]Value, error) {
		k, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return []Value{"dynamic:" + k}, nil
	})
}

func TestUserDataCustomIndex(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	u, err := rt.CreateUserData(indexable{})
	if err != nil {
		t.Fatal(err)
	}
	setGlobal(t, rt, "o", u)
	u.Release()

	// Registered methods win, everything else falls back to the custom __index.
	rtns, err := rt.Eval(`return o:real(), o.missing`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == "method", "Method lookup failed:", rtns[0])
	assert(t, rtns[1] == "dynamic:missing", "Custom index fallback failed:", rtns[1])
	assertNeutral(t, rt)
}
