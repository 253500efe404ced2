// The main package for the taped executable.
package main

import (
	"github.com/JakeFAU/taped/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
