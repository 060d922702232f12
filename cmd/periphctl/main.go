// Command periphctl drives the peripheral drivers from a Linux host, over
// periph.io buses or the Raspberry Pi registers, as described by a board
// file.
package main

import (
	"os"
)

func main() {
	a := newApp(os.Stdout, os.Stderr)
	if err := a.root().Execute(); err != nil {
		os.Exit(1)
	}
}
