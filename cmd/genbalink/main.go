package main

import (
	"os"

	"github.com/genbalink/genbalink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
