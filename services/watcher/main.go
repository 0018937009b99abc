package main

import (
	"os"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := logging.WithComponent("watcher")
		logger.Error().Err(err).Msg("watcher failed")
		os.Exit(1)
	}
}
