package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"xts-terminal/internal/cli"
	"xts-terminal/internal/config"
	"xts-terminal/internal/logging"
)

func main() {
	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	// The --config flag has to be read before cobra parses anything,
	// because the logger and config feed into command construction.
	configDir := ""
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			configDir = os.Args[i+1]
		}
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logging)

	if err := cli.NewRootCmd(cfg, logger).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
