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

package luasafe_test

import (
	"fmt"

	"github.com/milochristiansen/luasafe"
)

func Example() {
	rt := luasafe.New(nil)
	defer rt.Close()

	// Expose a host function to scripts. The callback gets its arguments checked and
	// converted for it, and whatever it returns (values or an error) is translated
	// back into script terms.
	double, err := rt.CreateFunction(func(rt *luasafe.Runtime, args luasafe.Args) ([]luasafe.Value, error) {
		n, err := args.Int(0)
		if err != nil {
			return nil, err
		}
		return []luasafe.Value{n * 2}, nil
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer double.Release()

	g, err := rt.Globals()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer g.Release()
	if err := g.Set("double", double); err != nil {
		fmt.Println(err)
		return
	}

	rtns, err := rt.Eval(`return double(21)`)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(rtns[0])

	// Output: 42
}
