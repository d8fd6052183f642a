// Command snapshot exports or imports the durable trading state as a single
// JSON document, for migrating between hosts or store backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/logging"
	"volatility-trading-bot/internal/store"
)

func main() {
	configPath := flag.String("config", "config.json", "path to JSON config file")
	exportPath := flag.String("export", "", "write a snapshot to this path")
	importPath := flag.String("import", "", "restore open positions from this snapshot")
	flag.Parse()

	if (*exportPath == "") == (*importPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -export or -import is required")
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: "info", Console: true})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg.StoreConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Open store failed")
	}
	defer st.Close()

	switch {
	case *exportPath != "":
		if err := store.ExportSnapshot(ctx, st, *exportPath); err != nil {
			logger.Fatal().Err(err).Msg("Export failed")
		}
		logger.Info().Str("path", *exportPath).Msg("Snapshot exported")
	case *importPath != "":
		n, err := store.ImportSnapshot(ctx, st, *importPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Import failed")
		}
		logger.Info().Int("positions", n).Str("path", *importPath).Msg("Snapshot imported")
	}
}
