package main

import (
	"os"

	"github.com/go-delve/dwarfcfa/cmd/dwarfcfa/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
