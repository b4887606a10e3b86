// The main package for the cachewarmer executable.
package main

import (
	"os"

	"github.com/JakeFAU/edge-cache-warmer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
