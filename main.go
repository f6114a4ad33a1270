// The main package for the tablehawk executable.
package main

import (
	"github.com/nvisser/tablehawk/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
