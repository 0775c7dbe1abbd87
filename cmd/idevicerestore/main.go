package main

import (
	"fmt"
	"os"

	"github.com/stek29/idevicerestore/cmd/idevicerestore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "idevicerestore:", err)
		os.Exit(1)
	}
}
