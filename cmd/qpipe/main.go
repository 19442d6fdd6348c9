package main

import (
	"os"
)

func main() {
	root := newRootCommand()
	root.AddCommand(newExecCommand(), newVersionCommand())

	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), err.Error())
		os.Exit(1)
	}
}
