package main

import (
	"os"

	"github.com/mhalvorsen/go-blkreactor/cmd/blkreactor/commands"
	"github.com/mhalvorsen/go-blkreactor/internal/logging"
)

func main() {
	err := commands.Execute()
	logging.Default().Close()
	if err != nil {
		commands.PrintErr("%v", err)
		os.Exit(1)
	}
	os.Exit(commands.ExitCode())
}
