// Package migrations applies the Postgres schema used by the quota ledger,
// the generation history and the integration token store.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

// Command is a goose operation supported by Run.
type Command string

const (
	CommandUp     Command = "up"
	CommandDown   Command = "down"
	CommandStatus Command = "status"
)

// Run executes cmd against db.
func Run(ctx context.Context, db *sql.DB, cmd Command, logger zerolog.Logger) error {
	goose.SetBaseFS(files)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch cmd {
	case CommandUp:
		return goose.UpContext(ctx, db, dir)
	case CommandDown:
		return goose.DownContext(ctx, db, dir)
	case CommandStatus:
		return goose.StatusContext(ctx, db, dir)
	}
	return fmt.Errorf("migrations: unknown command %q", cmd)
}

// gooseLogger implements goose.Logger on top of zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) { l.logger.Info().Msgf(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.logger.Fatal().Msgf(format, v...) }
