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

// A safe high-level handle layer for the DCLua VM.
//
// The raw VM API is stack-based and signals errors by panicking, which makes it easy to
// embed and really easy to misuse. This package trades a little speed for an API that
// cannot crash your program no matter what the script does: every VM operation that can
// "raise an error" is run inside a protected frame and comes back as an ordinary error
// value, and every script-visible value you hold on to is held through a handle that
// stays valid (or fails cleanly) for as long as you keep it.
//
// The rules are simple:
//
//   - Anything the script (or a bad argument) can trigger is returned as a *Error.
//   - A panic in your own callback code is carried across the interpreter unchanged.
//     Script-level pcall cannot catch it, it unwinds all the way back to your frame.
//   - If this package itself panics with an internal VM bug error, that is a bug here.
//     Report it.
//
// Handles (Table, Function, AnyUserData) reference values owned by the interpreter.
// They each pin one slot in an internal reference store so the value cannot be collected
// out from under you. Call Release when you are done with a handle to recycle its slot,
// a released handle returns errors rather than misbehaving. Strings need no handle at
// all: the VM stores strings as native Go strings, so they come back to you as plain
// string values with normal byte-content equality (map keys work exactly like you would
// expect).
//
// A Runtime may be handed from goroutine to goroutine, but never use one from two
// goroutines at the same time. The underlying VM is not reentrant across threads and
// this package adds no locking around it. The one exception is dropping RegistryKey
// values, which is always safe (see ExpireRegistryValues).
//
// Loading source text is safe. Loading a precompiled binary chunk is NOT, the loader
// does not validate its input and a malicious chunk can corrupt the VM. That path is
// only available through UnsafeLoadBinary so you cannot hit it by accident.
//
// Which standard libraries a new Runtime gets is up to you (see Config and the Lib
// flags). This VM deliberately ships no io, os, or debug libraries at all, so the usual
// "don't give untrusted scripts os" advice is enforced in the strongest possible way:
// there is nothing to give them.
package luasafe
