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

// If "ok" is false then fail the test and log the message.
func assert(t *testing.T, ok bool, msg ...interface{}) {
	if !ok {
		t.Error(msg...)
	}
}

// If "ok" is false then fail the test and log the message.
func assertf(t *testing.T, ok bool, format string, msg ...interface{}) {
	if !ok {
		t.Errorf(format, msg...)
	}
}

// Check that the value stack is empty. Every host-level operation must leave the stack
// the way it found it, success or error.
func assertNeutral(t *testing.T, rt *Runtime) {
	assertf(t, rt.l.AbsIndex(-1) == 0, "Value stack not depth neutral: %v values left over.", rt.l.AbsIndex(-1))
}

func TestEval(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	rtns, err := rt.Eval(`return 1, 2.5, "x", true, nil`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, len(rtns) == 5, "Wrong result count:", len(rtns))
	assert(t, rtns[0] == int64(1), "Wrong result 0:", rtns[0])
	assert(t, rtns[1] == float64(2.5), "Wrong result 1:", rtns[1])
	assert(t, rtns[2] == "x", "Wrong result 2:", rtns[2])
	assert(t, rtns[3] == true, "Wrong result 3:", rtns[3])
	assert(t, rtns[4] == nil, "Wrong result 4:", rtns[4])
	assertNeutral(t, rt)
}

func TestEvalErrors(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	_, err := rt.Eval(`retur 1`)
	assertf(t, IsKind(err, KindSyntax), "Expected a syntax error, got: %v", err)
	assertNeutral(t, rt)

	_, err = rt.Eval(`error("boom")`)
	assertf(t, IsKind(err, KindRuntime), "Expected a runtime error, got: %v", err)
	assertNeutral(t, rt)

	_, err = rt.Eval(`local x = nil; return x.y`)
	assertf(t, IsKind(err, KindRuntime), "Expected a runtime error, got: %v", err)
	assertNeutral(t, rt)
}

func TestLoad(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	f, err := rt.Load(`return 40 + 2`, "chunk")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()

	v, err := f.Call1()
	if err != nil {
		t.Fatal(err)
	}
	assert(t, v == int64(42), "Wrong result:", v)

	_, err = rt.Load(`this is not a chunk`, "bad")
	assertf(t, IsKind(err, KindSyntax), "Expected a syntax error, got: %v", err)
	assertNeutral(t, rt)
}

func TestGlobals(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	g, err := rt.Globals()
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	err = g.Set("answer", 42)
	if err != nil {
		t.Fatal(err)
	}

	rtns, err := rt.Eval(`return answer`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == int64(42), "Wrong global value:", rtns[0])

	err = rt.Exec(`answer = answer * 2`)
	if err != nil {
		t.Fatal(err)
	}
	v, err := g.Get("answer")
	if err != nil {
		t.Fatal(err)
	}
	assert(t, v == int64(84), "Wrong global value after script write:", v)
	assertNeutral(t, rt)
}

func TestClose(t *testing.T) {
	rt := New(nil)

	g, err := rt.Globals()
	if err != nil {
		t.Fatal(err)
	}

	rt.Close()
	rt.Close() // Idempotent.

	_, err = rt.Eval(`return 1`)
	assertf(t, IsKind(err, KindClosed), "Expected a closed error, got: %v", err)

	_, err = g.Get("print")
	assertf(t, IsKind(err, KindClosed), "Expected a closed error, got: %v", err)

	g.Release() // Must not panic.
}

func TestSlotAccounting(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	base := rt.refs.live

	a, err := rt.CreateTable(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := rt.CreateTable(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rt.refs.live == base+2, "Wrong live count:", rt.refs.live)

	aslot := a.slot
	a.Release()
	a.Release() // Double release is a no-op.
	assert(t, rt.refs.live == base+1, "Wrong live count after release:", rt.refs.live)

	_, err = a.Get("x")
	assertf(t, IsKind(err, KindDestructed), "Expected a destructed error, got: %v", err)

	// The freed slot is recycled by the next allocation.
	c, err := rt.CreateTable(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, c.slot == aslot, "Slot not recycled:", c.slot, "vs", aslot)

	b.Release()
	c.Release()
	assert(t, rt.refs.live == base, "Live count did not return to base:", rt.refs.live)
	assertNeutral(t, rt)
}

func TestHandleAnchoring(t *testing.T) {
	rt := New(nil)
	defer rt.Close()

	// Anchoring happens with the value at varying stack depths (here each table is
	// anchored while the later results are still on the stack). Each handle must pin
	// its own value without disturbing anything underneath it.
	rtns, err := rt.Eval(`return {n = 1}, {n = 2}, {n = 3}`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, len(rtns) == 3, "Wrong result count:", len(rtns))

	for i, v := range rtns {
		tbl, ok := v.(*Table)
		if !ok {
			t.Fatal("Result is not a table handle:", v)
		}
		n, err := tbl.Get("n")
		if err != nil {
			t.Fatal(err)
		}
		assert(t, n == int64(i+1), "Handle pinned the wrong value:", n, "vs", i+1)
		tbl.Release()
	}
	assertNeutral(t, rt)
}

func TestLibConfig(t *testing.T) {
	rt := New(&Config{Libs: LibBase})
	defer rt.Close()

	_, err := rt.Eval(`return type(print)`)
	if err != nil {
		t.Fatal(err)
	}

	rtns, err := rt.Eval(`return string == nil and table == nil and math == nil`)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, rtns[0] == true, "Unrequested libraries present.")
}
