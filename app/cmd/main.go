package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	loadEnvVariables()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvVariables reads .env when present. A missing file is not an error.
func loadEnvVariables() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error loading .env file", "err", err)
	}
}
