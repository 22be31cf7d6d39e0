package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/coder/csplistener/cli"
)

// Version information injected at build time
var version = "dev" // Set via -ldflags "-X main.version=v1.0.0"

func main() {
	// A .env file is optional; the process environment is used as is without one.
	_ = godotenv.Load()

	cmd := cli.NewCommand(version)

	err := cmd.Invoke().WithOS().Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
