package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/intelforge/intelforge/cmd"
)

func main() {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
