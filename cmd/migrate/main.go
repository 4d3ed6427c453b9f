package main

import (
	"flag"
	"log/slog"
	"os"

	"keymint/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	dsn := flag.String("dsn", os.Getenv("KEYMINT_DATABASE_DSN"), "postgres connection string")
	flag.Parse()

	if *dsn == "" {
		slog.Error("database DSN is required (flag -dsn or KEYMINT_DATABASE_DSN)")
		os.Exit(1)
	}

	if err := migrate.Run(*dsn, *direction); err != nil {
		slog.Error("migration failed",
			slog.String("direction", *direction),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("migrations applied", slog.String("direction", *direction))
}
