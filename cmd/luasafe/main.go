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

// Command luasafe is a small script runner and REPL.
//
//	luasafe file.lua      run a script file
//	luasafe -e 'code'     run a snippet
//	luasafe               start a REPL (or run stdin, if it is not a terminal)
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/milochristiansen/luasafe"
)

const (
	appName     = "luasafe"
	historyFile = ".luasafe_history"
	promptMain  = "> "
	promptCont  = ">> "
)

func main() {
	var evalStr string
	flag.StringVar(&evalStr, "e", "", "Evaluate the given snippet and exit")
	flag.Parse()

	args := flag.Args()

	switch {
	case evalStr != "":
		os.Exit(runString(evalStr, "command line"))
	case len(args) > 0:
		os.Exit(runFile(args[0]))
	case term.IsTerminal(int(os.Stdin.Fd())):
		os.Exit(runREPL())
	default:
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: cannot read stdin: %v\n", appName, err)
			os.Exit(1)
		}
		os.Exit(runString(string(src), "stdin"))
	}
}

func runFile(path string) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, path, err)
		return 1
	}
	return runString(string(src), path)
}

func runString(src, name string) int {
	rt := luasafe.New(nil)
	defer rt.Close()

	f, err := rt.Load(src, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	defer f.Release()

	if _, err := f.Call(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	return 0
}

func runREPL() int {
	fmt.Println("luasafe REPL. Ctrl+C to cancel input, Ctrl+D to exit.")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	// Load history (best-effort).
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}

	rt := luasafe.New(nil)
	defer rt.Close()

	for {
		code, ok := read(rt, ln)
		if !ok {
			fmt.Println()
			break
		}
		if strings.TrimSpace(code) == "" {
			continue
		}

		run(rt, code)
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
	}

	// Persist history (best-effort).
	if f, err := os.Create(histPath); err == nil {
		ln.WriteHistory(f)
		f.Close()
	}
	return 0
}

// read accumulates possibly-multiline input until it compiles (or fails with an error
// that more input cannot fix).
func read(rt *luasafe.Runtime, ln *liner.State) (string, bool) {
	code := ""
	prompt := promptMain

	for {
		line, err := ln.Prompt(prompt)
		switch err {
		case nil:
		case liner.ErrPromptAborted:
			return "", true // Cancel the pending input, keep the REPL alive.
		default:
			return "", false
		}

		if code == "" {
			code = line
		} else {
			code += "\n" + line
		}

		if !incomplete(rt, code) {
			return code, true
		}
		prompt = promptCont
	}
}

// incomplete reports whether the input looks like an unfinished chunk, as opposed to
// one that is simply wrong.
func incomplete(rt *luasafe.Runtime, code string) bool {
	f, err := rt.Load(code, "repl")
	if err == nil {
		f.Release()
		return false
	}
	if !luasafe.IsKind(err, luasafe.KindSyntax) {
		return false
	}
	return strings.Contains(err.Error(), "EOF")
}

func run(rt *luasafe.Runtime, code string) {
	// Expression first, so "1 + 1" prints 2 the way you would expect. If it does not
	// parse as an expression, run it as a statement.
	rtns, err := rt.Eval("return " + code)
	if err != nil && luasafe.IsKind(err, luasafe.KindSyntax) {
		rtns, err = rt.Eval(code)
	}
	if err != nil {
		fmt.Println(err)
		return
	}

	for i, v := range rtns {
		if i > 0 {
			fmt.Print("\t")
		}
		fmt.Print(format(v))
	}
	if len(rtns) > 0 {
		fmt.Println()
	}

	for _, v := range rtns {
		if r, ok := v.(interface{ Release() }); ok {
			r.Release()
		}
	}
}

func format(v luasafe.Value) string {
	switch v2 := v.(type) {
	case nil:
		return "nil"
	case *luasafe.Table:
		return "table"
	case *luasafe.Function:
		return "function"
	case *luasafe.AnyUserData:
		return v2.TypeName()
	default:
		return fmt.Sprintf("%v", v2)
	}
}
