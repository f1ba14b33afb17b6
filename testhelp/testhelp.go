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

// Helper functions for running script snippets in tests.
package testhelp

import "testing"

import "github.com/milochristiansen/luasafe"

// MkRuntime creates a Runtime with the full standard library and no string extensions.
func MkRuntime() *luasafe.Runtime {
	return luasafe.New(&luasafe.Config{
		Libs:         luasafe.LibsAll,
		NoStringExts: true,
	})
}

// AssertEval runs a snippet. The test fails if there is an error or if "v" does not
// match the snippet's first return value.
func AssertEval(t *testing.T, rt *luasafe.Runtime, blk string, v luasafe.Value) {
	rtns, err := rt.Eval(blk)
	if err != nil {
		t.Error(err)
		return
	}

	// Results only ever use the wide numeric types.
	if i, ok := v.(int); ok {
		v = int64(i)
	}

	var got luasafe.Value
	if len(rtns) > 0 {
		got = rtns[0]
	}
	Assertf(t, got == v, "Did not return expected value. Returned: %v Expected: %v", got, v)
}

// AssertError runs a snippet and requires it to fail with an error of the given kind.
func AssertError(t *testing.T, rt *luasafe.Runtime, blk string, k luasafe.ErrKind) {
	_, err := rt.Eval(blk)
	if err == nil {
		t.Errorf("Expected a %v error, got no error.", k)
		return
	}
	Assertf(t, luasafe.IsKind(err, k), "Expected a %v error, got: %v", k, err)
}

// Assert fails the test and logs the message if "ok" is false.
//
// This is purely a lazy convenience.
func Assert(t *testing.T, ok bool, msg ...interface{}) {
	if !ok {
		t.Error(msg...)
	}
}

// Assertf fails the test and logs the message if "ok" is false.
//
// This is purely a lazy convenience.
func Assertf(t *testing.T, ok bool, format string, msg ...interface{}) {
	if !ok {
		t.Errorf(format, msg...)
	}
}
