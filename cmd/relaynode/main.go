package main

import (
	"fmt"
	"os"

	"relaynet/cmd/relaynode/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
