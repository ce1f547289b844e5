// The main package for the adsnap executable.
package main

import (
	"github.com/JakeFAU/adsnap/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
