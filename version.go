package main

import (
	"fmt"

	"github.com/vein-cache/vein/internal/version"
)

// printVersion writes the injected version + commit string to stdOut.
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
