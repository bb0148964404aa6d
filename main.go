// The main package for the epaper executable.
package main

import (
	"github.com/JakeFAU/epaper-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
