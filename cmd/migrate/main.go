package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/migrations"
)

func main() {
	var commandFlag string
	flag.StringVar(&commandFlag, "command", "up", "migration command (up, down, status)")
	flag.Parse()

	_ = godotenv.Load(".env", ".env.local")

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "migrate").Logger()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to open database: %w", err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		exitWithError(fmt.Errorf("failed to reach database: %w", err))
	}

	cmd := migrations.Command(strings.ToLower(strings.TrimSpace(commandFlag)))
	if err := migrations.Run(ctx, db, cmd, logger); err != nil {
		exitWithError(fmt.Errorf("migrate %s: %w", cmd, err))
	}
	logger.Info().Str("command", string(cmd)).Msg("migrations finished")
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
