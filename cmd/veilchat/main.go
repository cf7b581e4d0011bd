package main

import (
	"os"

	"github.com/veil-im/veil/cmd/veilchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
