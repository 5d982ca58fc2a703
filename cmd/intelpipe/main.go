package main

import (
	"fmt"
	"os"

	"intelpipe/internal/cli"
	_ "intelpipe/internal/feeds"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
