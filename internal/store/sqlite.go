package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"taskscheduler/internal/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite stores tasks as JSON payload rows and history as one row per entry.
type SQLite struct {
	DB       *sql.DB
	Path     string
	Location *time.Location
	Logger   zerolog.Logger
}

// OpenSQLite opens tasks.sqlite under stateDir and brings its schema up to
// date.
func OpenSQLite(ctx context.Context, stateDir string) (*SQLite, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}
	dbFile := filepath.Join(stateDir, "tasks.sqlite")
	dsn := "file:" + dbFile + "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbFile, err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dbFile, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{DB: db, Path: dbFile}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}

// Load reads every task and the history in insertion order.
func (s *SQLite) Load(ctx context.Context) (*core.Snapshot, error) {
	snap := &core.Snapshot{}

	rows, err := s.DB.QueryContext(ctx, `SELECT id, payload FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if task := decodeTask([]byte(payload), id, s.Location, s.Logger); task != nil {
			snap.Tasks = append(snap.Tasks, task)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := s.DB.QueryContext(ctx, `
		SELECT task_id, task_name, executed_at, success, message
		FROM history
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		entry, err := scanHistory(hrows)
		if err != nil {
			return nil, err
		}
		snap.History = append(snap.History, entry)
	}
	if err := hrows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save replaces the stored tasks and history with the snapshot in one transaction.
func (s *SQLite) Save(ctx context.Context, snap *core.Snapshot) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for _, task := range snap.Tasks {
		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", task.ID, err)
		}
		created := task.CreatedAt.UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, task.ID, string(payload), created, now); err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	for _, e := range snap.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO history (task_id, task_name, executed_at, success, message)
			VALUES (?, ?, ?, ?, ?)
		`, e.TaskID, e.TaskName, e.ExecutedAt.Format(time.RFC3339Nano), boolToInt(e.Success), e.Message); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func scanHistory(scanner interface {
	Scan(dest ...any) error
}) (core.HistoryEntry, error) {
	var (
		entry      core.HistoryEntry
		executedAt string
		success    int
	)
	if err := scanner.Scan(&entry.TaskID, &entry.TaskName, &executedAt, &success, &entry.Message); err != nil {
		return core.HistoryEntry{}, fmt.Errorf("scan history: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, executedAt)
	if err != nil {
		return core.HistoryEntry{}, fmt.Errorf("invalid stored time %q: %w", executedAt, err)
	}
	entry.ExecutedAt = t
	entry.Success = success != 0
	return entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// migrate applies every embedded migration newer than the schema version
// recorded in PRAGMA user_version. Files apply in name order, each in its own
// transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := current; i < len(files); i++ {
		script, err := migrations.ReadFile(files[i])
		if err != nil {
			return fmt.Errorf("read %s: %w", files[i], err)
		}
		if err := applyMigration(ctx, db, string(script), i+1); err != nil {
			return fmt.Errorf("apply %s: %w", path.Base(files[i]), err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, script string, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}
