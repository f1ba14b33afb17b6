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

// Function is a handle to a script function (which may itself be a wrapped host
// callback, the handle neither knows nor cares).
type Function struct {
	ref
}

// Call invokes the function with the given arguments and returns all of its results.
// Script errors come back as a *Error; a host panic raised by a callback somewhere
// below this call resumes here as the original panic.
func (f *Function) Call(args ...Value) (rtns []Value, err error) {
	if err := f.check(); err != nil {
		return nil, err
	}

	err = f.rt.protect(func() {
		l := f.rt.l
		base := l.AbsIndex(-1)

		f.rt.pushSlot(f.slot)
		for _, a := range args {
			f.rt.pushValue(a)
		}
		l.Call(len(args), -1)

		top := l.AbsIndex(-1)
		for i := base + 1; i <= top; i++ {
			rtns = append(rtns, f.rt.readValue(i))
		}
		l.Pop(top - base)
	})
	if err != nil {
		return nil, err
	}
	return rtns, nil
}

// Call1 is Call for the common case where you want exactly one result. Extra results
// are released and discarded, a missing result is nil.
func (f *Function) Call1(args ...Value) (Value, error) {
	rtns, err := f.Call(args...)
	if err != nil {
		return nil, err
	}
	if len(rtns) == 0 {
		return nil, nil
	}
	for _, v := range rtns[1:] {
		releaseIfHandle(v)
	}
	return rtns[0], nil
}
