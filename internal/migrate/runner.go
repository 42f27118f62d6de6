package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"
)

const defaultHistoryTable = "schema_history"

// Kinds recorded in the history table.
const (
	kindMigration = "migration"
	kindSeed      = "seed"
)

// Runner applies SQL migrations and seed files from the filesystem.
// Each file runs inside its own transaction and is recorded in a
// history table, so re-running is a no-op.
type Runner struct {
	db           *sql.DB
	migrations   fs.FS
	seeds        fs.FS
	historyTable string
}

// Option configures Runner.
type Option func(*Runner)

// WithHistoryTable overrides the bookkeeping table name.
func WithHistoryTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.historyTable = name
		}
	}
}

// NewRunner constructs a Runner over the given directories. Either
// directory may be empty, in which case the corresponding operations
// apply nothing.
func NewRunner(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Runner {
	r := &Runner{
		db:           db,
		historyTable: defaultHistoryTable,
	}
	if migrationsDir != "" {
		r.migrations = os.DirFS(migrationsDir)
	}
	if seedsDir != "" {
		r.seeds = os.DirFS(seedsDir)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Up applies every pending .up.sql migration in lexical order.
func (r *Runner) Up(ctx context.Context) error {
	return r.applyPending(ctx, r.migrations, ".up.sql", kindMigration)
}

// Seed applies every pending seed file. Seeds run once, like
// migrations, so they may insert without guarding against duplicates.
func (r *Runner) Seed(ctx context.Context) error {
	return r.applyPending(ctx, r.seeds, ".sql", kindSeed)
}

// Down rolls back the most recently applied migration using its
// .down.sql counterpart.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureHistory(ctx); err != nil {
		return err
	}
	applied, err := r.appliedNames(ctx, kindMigration)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	downName := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	script, err := fs.ReadFile(r.migrations, downName)
	if err != nil {
		return fmt.Errorf("missing down migration for %s: %w", last, err)
	}
	if err := r.runScript(ctx, string(script)); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1 and kind = $2`, r.historyTable),
		last, kindMigration)
	return err
}

// Status returns applied migration names in application order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	return r.appliedNames(ctx, kindMigration)
}

func (r *Runner) applyPending(ctx context.Context, fsys fs.FS, suffix, kind string) error {
	if fsys == nil {
		return nil
	}
	if err := r.ensureHistory(ctx); err != nil {
		return err
	}
	applied, err := r.appliedNames(ctx, kind)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	names, err := listSQL(fsys, suffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		if err := r.runScript(ctx, string(script)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name, kind, applied_at) values ($1, $2, $3)`, r.historyTable),
			name, kind, time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) ensureHistory(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text not null,
			kind text not null,
			applied_at timestamptz not null default now(),
			primary key (name, kind)
		)`, r.historyTable))
	return err
}

func (r *Runner) appliedNames(ctx context.Context, kind string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s where kind = $1 order by applied_at, name`, r.historyTable), kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *Runner) runScript(ctx context.Context, script string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(script) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func listSQL(fsys fs.FS, suffix string) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, suffix) {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits a script on semicolons, respecting single
// quotes. Migration files here avoid procedural bodies, so
// dollar-quoting is not handled.
func splitStatements(script string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	for _, r := range script {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
