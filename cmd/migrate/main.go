package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/token-indexer/internal/config"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/storage"
)

func main() {
	var migrationsPath string
	flag.StringVar(&migrationsPath, "path", "migrations", "path to migration files")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)

	migrator := storage.NewMigrator(
		cfg.Database.Postgres.PostgresURL(),
		migrationsPath,
		logging.GetGlobalLogger(),
	)

	switch command {
	case "up":
		if err := migrator.Up(); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}

	case "down":
		if err := migrator.Rollback(); err != nil {
			fmt.Fprintf(os.Stderr, "rollback failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read version: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("version: %d dirty: %v\n", version, dirty)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected up, down, or version)\n", command)
		os.Exit(1)
	}
}
