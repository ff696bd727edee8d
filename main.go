package main

import (
	"github.com/joho/godotenv"

	"github.com/schedkit/exchange-bridge/cmd"
)

// version will be set by goreleaser during build
var version = "dev"

func main() {
	// Load .env if present; real environment variables take precedence
	_ = godotenv.Load()

	cmd.SetVersion(version)
	cmd.Execute()
}
