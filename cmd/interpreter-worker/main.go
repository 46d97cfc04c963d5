// Command interpreter-worker hosts capabilities for one interpreter group.
// It is spawned by interpreterd and not meant to be run by hand.
package main

import (
	"os"

	"github.com/psantana5/interpreter-runtime/pkg/worker"
)

func main() {
	os.Exit(worker.Main(os.Args[1:]))
}
