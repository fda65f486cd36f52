package main

import (
	"os"

	"cipherroom/cmd/cipherroom/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
