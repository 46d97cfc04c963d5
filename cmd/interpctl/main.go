package main

import (
	"os"

	"github.com/psantana5/interpreter-runtime/cmd/interpctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
