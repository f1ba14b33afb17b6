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

// safePCall builds the replacement for the stock script-level pcall.
//
// It behaves exactly like the standard version with one crucial difference: if the
// recovered error is actually a host panic in flight, the panic is re-raised instead of
// being handed to the script. Script code must never observe (much less swallow) a host
// panic; it keeps unwinding, past every script-level pcall on the way, until it reaches
// the host frame above the interpreter and resumes there.
func (rt *Runtime) safePCall() lua.NativeFunction {
	return func(l *lua.State) int {
		if l.AbsIndex(-1) == 0 {
			panic(&Error{Kind: KindArgument, Msg: "pcall: nothing to call"})
		}

		l.Push(true)
		l.Insert(1)

		err := l.PCall(l.AbsIndex(-1)-2, -1)
		if err != nil {
			if pe := panicPayload(err); pe != nil {
				// Not for script eyes. Keep it flying.
				panic(pe)
			}
			l.Push(false)
			l.Push(convertError(err).Error())
			return 2
		}
		return l.AbsIndex(-1) - 1
	}
}
