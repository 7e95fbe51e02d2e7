package main

import (
	"os"

	"github.com/nonos-network/nonosd/cmd/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
