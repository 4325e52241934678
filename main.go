package main

import (
	"os"

	"github.com/callpilot/protofill/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
