package main

import (
	"os"

	"trustmint/cmd/trustctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
