package main

import (
	"os"
)

func main() {
	code := 0
	root := newRootCmd(os.Stdin, os.Stdout, os.Stderr, &code)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(code)
}
