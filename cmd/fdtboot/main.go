package main

import (
	"fmt"
	"os"

	"github.com/tinyrange/fdtboot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fdtboot: %v\n", err)
		os.Exit(1)
	}
}
