package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type migration struct {
	suffix string
	verb   string
}

var (
	migrationUp   = migration{suffix: ".up.sql", verb: "apply"}
	migrationDown = migration{suffix: ".down.sql", verb: "roll back"}
)

// migrationFiles lists the scripts for m in execution order: ascending for
// up, descending for down.
func migrationFiles(dir string, m migration) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+m.suffix))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)
	if m == migrationDown {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// MigrateUp applies every *.up.sql in dir inside one transaction.
func (r *PostgresLedger) MigrateUp(ctx context.Context, dir string) error {
	return r.migrate(ctx, dir, migrationUp)
}

// MigrateDown drops the schema. It deletes every stored visit.
func (r *PostgresLedger) MigrateDown(ctx context.Context, dir string) error {
	return r.migrate(ctx, dir, migrationDown)
}

func (r *PostgresLedger) migrate(ctx context.Context, dir string, m migration) error {
	files, err := migrationFiles(dir, m)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no %s migrations in %s", m.suffix, dir)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, file := range files {
		script, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if strings.TrimSpace(string(script)) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to %s migration %s: %w", m.verb, filepath.Base(file), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	r.log.Info().Msgf("%d migration(s) done (%s) from %s", len(files), m.suffix, dir)
	return nil
}
