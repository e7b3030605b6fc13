package main

import (
	"github.com/JakeFAU/realtime-task-progress/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
