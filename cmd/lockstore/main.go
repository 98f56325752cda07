// Command lockstore runs the version counter and row lock experiments.
package main

import (
	"os"

	"github.com/jacentio/lockstore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
