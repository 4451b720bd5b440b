package main

import (
	"os"

	"github.com/gwflow/gwsetup/cmd/gwsetup/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
