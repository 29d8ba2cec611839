package main

import (
	"context"
	"fmt"
	"os"

	"plantmon-server/internal/config"
	"plantmon-server/internal/db"
	"plantmon-server/internal/logging"
	"plantmon-server/internal/migrate"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: migrate <command>\n  migrate  apply pending schema migrations")
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := logging.New(os.Stderr, cfg, "dev", "migrate")

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	switch args[0] {
	case "migrate":
		if err := migrate.Run(ctx, conn, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}
