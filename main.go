package main

import (
	"os"

	"github.com/dagrun/dagrun/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
