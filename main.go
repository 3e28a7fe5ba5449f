// The main package for the newsharvest executable.
package main

import (
	"github.com/JakeFAU/newsharvest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
