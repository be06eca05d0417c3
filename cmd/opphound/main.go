package main

import (
	"os"

	"github.com/opphound/opphound/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
