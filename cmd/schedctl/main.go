package main

import (
	"fmt"
	"os"

	"obsched/cmd/schedctl/commands"
)

var version = "dev"

func main() {
	root := commands.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
