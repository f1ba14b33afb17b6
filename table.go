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

// Table is a handle to a script table.
type Table struct {
	ref
}

// Get reads t[k], honoring the __index metamethod chain.
func (t *Table) Get(k Value) (v Value, err error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	err = t.rt.protect(func() {
		l := t.rt.l
		t.rt.pushSlot(t.slot)
		t.rt.pushValue(k)
		l.GetTable(-2)
		v = t.rt.readValue(-1)
		l.Pop(2)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set writes t[k] = v, honoring the __newindex metamethod chain.
func (t *Table) Set(k, v Value) error {
	if err := t.check(); err != nil {
		return err
	}

	return t.rt.protect(func() {
		l := t.rt.l
		t.rt.pushSlot(t.slot)
		t.rt.pushValue(k)
		t.rt.pushValue(v)
		l.SetTable(-3)
		l.Pop(1)
	})
}

// RawGet reads t[k] without consulting metamethods.
func (t *Table) RawGet(k Value) (v Value, err error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	err = t.rt.protect(func() {
		l := t.rt.l
		t.rt.pushSlot(t.slot)
		t.rt.pushValue(k)
		l.GetTableRaw(-2)
		v = t.rt.readValue(-1)
		l.Pop(2)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// RawSet writes t[k] = v without consulting metamethods.
func (t *Table) RawSet(k, v Value) error {
	if err := t.check(); err != nil {
		return err
	}

	return t.rt.protect(func() {
		l := t.rt.l
		t.rt.pushSlot(t.slot)
		t.rt.pushValue(k)
		t.rt.pushValue(v)
		l.SetTableRaw(-3)
		l.Pop(1)
	})
}

// Len returns the length of the table exactly like the # operator would, __len
// metamethod included.
func (t *Table) Len() (n int64, err error) {
	if err := t.check(); err != nil {
		return 0, err
	}

	err = t.rt.protect(func() {
		l := t.rt.l
		t.rt.pushSlot(t.slot)
		n = int64(l.Length(-1))
		l.Pop(1)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RawLen is Len without metamethods.
func (t *Table) RawLen() (n int64, err error) {
	if err := t.check(); err != nil {
		return 0, err
	}

	err = t.rt.protect(func() {
		l := t.rt.l
		t.rt.pushSlot(t.slot)
		n = int64(l.LengthRaw(-1))
		l.Pop(1)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Iterator starts a fresh iteration over the table's key/value pairs.
//
// The sequence is lazy and finite: each pair is fetched from the VM on demand, every
// key present when the iteration started is visited exactly once, and iteration order
// is unspecified. To restart from the beginning, make a new Iterator.
//
// Mutating the table while an iteration is in flight has unspecified results, exactly
// like mutating a table inside a script for/next loop. Don't.
func (t *Table) Iterator() (it *TableIterator, err error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	err = t.rt.protect(func() {
		l := t.rt.l
		t.rt.pushSlot(t.slot)
		l.GetIter(-1)
		it = &TableIterator{ref: ref{t.rt, t.rt.anchor()}}
		l.Pop(1)
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// ForEach calls f once for every key/value pair in the table. Returning an error from f
// stops the iteration and returns that error. Handles passed to f are released
// automatically after each call; if you need to keep one, read it again by key.
func (t *Table) ForEach(f func(k, v Value) error) error {
	it, err := t.Iterator()
	if err != nil {
		return err
	}
	defer it.Release()

	for it.Next() {
		k, v := it.Pair()
		err := f(k, v)
		releaseIfHandle(k)
		releaseIfHandle(v)
		if err != nil {
			return err
		}
	}
	return it.Err()
}

func releaseIfHandle(v Value) {
	if r, ok := v.(interface{ Release() }); ok {
		r.Release()
	}
}

// TableIterator walks a table one key/value pair at a time, in the style of
// bufio.Scanner:
//
//	it, err := t.Iterator()
//	// handle err
//	defer it.Release()
//	for it.Next() {
//		k, v := it.Pair()
//		// ...
//	}
//	// check it.Err()
type TableIterator struct {
	ref

	key, val Value
	done     bool
	ierr     error
}

// Next advances to the next pair. It returns false when the table is exhausted or an
// error occurred (check Err to tell the difference).
func (it *TableIterator) Next() bool {
	if it.done || it.ierr != nil {
		return false
	}
	if err := it.check(); err != nil {
		it.ierr = err
		return false
	}

	err := it.rt.protect(func() {
		l := it.rt.l
		it.rt.pushSlot(it.slot)
		l.Call(0, 2)
		if l.IsNil(-2) {
			it.done = true
			l.Pop(2)
			return
		}
		it.key = it.rt.readValue(-2)
		it.val = it.rt.readValue(-1)
		l.Pop(2)
	})
	if err != nil {
		it.ierr = err
		return false
	}
	if it.done {
		it.Release()
		return false
	}
	return true
}

// Pair returns the current key/value pair. Only valid after a true return from Next.
// Reference-typed keys and values are handles owned by the caller.
func (it *TableIterator) Pair() (k, v Value) {
	return it.key, it.val
}

// Err returns the first error hit while iterating, if any.
func (it *TableIterator) Err() error {
	return it.ierr
}
