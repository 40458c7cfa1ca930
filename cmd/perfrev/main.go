package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/aezell/perfrev/internal/cli"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()
	os.Exit(cli.Execute())
}
