// Package snapshot persists published index generations in a SQLite
// catalog. A restarted process loads the stored records and serves
// searches immediately while fresh walks run in the background.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/driveseek/driveseek/internal/store"
)

// Catalog is the on-disk generation store. One database file holds
// every drive's latest published generation; the telemetry store
// shares the same database through DB.
type Catalog struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateIntegrity checks an existing catalog file before opening it
// for real. Returns nil if the file is usable, an error describing the
// damage if not.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='generations'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("catalog table 'generations' missing")
	}

	return nil
}

// New opens (or creates) the catalog at path. An empty path opens an
// in-memory catalog for testing. A corrupt file is cleared and rebuilt
// empty; the affected drives warm-start cold and rebuild as usual.
func New(path string) (*Catalog, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("snapshot_catalog_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("catalog corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("snapshot_catalog_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, affected drives will rebuild"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite; DSN
	// params may be ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16384",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &Catalog{db: db, path: path}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return c, nil
}

// initSchema creates the catalog tables.
func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- One row per drive: its latest published generation.
	CREATE TABLE IF NOT EXISTS generations (
		drive        TEXT PRIMARY KEY,
		generation   INTEGER NOT NULL,
		record_count INTEGER NOT NULL,
		created_at   TEXT NOT NULL
	);

	-- The generation's records. id preserves store insertion order so
	-- a restored index lists results in the same order the walk did.
	CREATE TABLE IF NOT EXISTS records (
		drive  TEXT NOT NULL,
		id     INTEGER NOT NULL,
		name   TEXT NOT NULL,
		path   TEXT NOT NULL,
		size   INTEGER NOT NULL,
		mtime  INTEGER NOT NULL,
		is_dir INTEGER NOT NULL,
		ext    TEXT NOT NULL,
		attr   INTEGER NOT NULL,
		PRIMARY KEY (drive, id)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := c.db.Exec(schema)
	return err
}

// SaveGeneration replaces drive's stored generation with the live
// records of ds. The replace is one transaction: a reader never sees a
// half-written generation, and a failed save leaves the previous one
// intact.
func (c *Catalog) SaveGeneration(ctx context.Context, drive string, gen uint64, ds *store.DriveStore) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("snapshot catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE drive = ?`, drive); err != nil {
		return fmt.Errorf("failed to clear records for %s: %w", drive, err)
	}

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records(drive, id, name, path, size, mtime, is_dir, ext, attr)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare record statement: %w", err)
	}
	defer insertStmt.Close()

	count := 0
	var insertErr error
	ds.ForEach(func(id store.RecordID, rec *store.IndexedFile) bool {
		isDir := 0
		if rec.IsDir {
			isDir = 1
		}
		if _, err := insertStmt.ExecContext(ctx, drive, int64(id),
			rec.Name, rec.Path, rec.Size, rec.MTime.UnixNano(),
			isDir, rec.Ext, int64(rec.Attr)); err != nil {
			insertErr = fmt.Errorf("failed to store record %s: %w", rec.Path, err)
			return false
		}
		count++
		return true
	})
	if insertErr != nil {
		return insertErr
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO generations(drive, generation, record_count, created_at)
		 VALUES (?, ?, ?, ?)`,
		drive, int64(gen), count, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to store generation for %s: %w", drive, err)
	}

	return tx.Commit()
}

// LoadGeneration returns drive's stored records and generation number,
// in stored id order. A drive with no stored generation returns gen 0
// and no error.
func (c *Catalog) LoadGeneration(ctx context.Context, drive string) ([]store.RawEntry, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, 0, fmt.Errorf("snapshot catalog is closed")
	}

	var gen int64
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT generation, record_count FROM generations WHERE drive = ?`, drive).
		Scan(&gen, &count)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load generation for %s: %w", drive, err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT name, path, size, mtime, is_dir, attr
		 FROM records WHERE drive = ? ORDER BY id`, drive)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load records for %s: %w", drive, err)
	}
	defer rows.Close()

	entries := make([]store.RawEntry, 0, count)
	for rows.Next() {
		var name, path string
		var size, mtime, attr int64
		var isDir int
		if err := rows.Scan(&name, &path, &size, &mtime, &isDir, &attr); err != nil {
			return nil, 0, fmt.Errorf("failed to scan record for %s: %w", drive, err)
		}
		entries = append(entries, store.RawEntry{
			Path:  path,
			Name:  name,
			Size:  size,
			MTime: time.Unix(0, mtime),
			IsDir: isDir != 0,
			Attr:  store.AttrMask(attr),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read records for %s: %w", drive, err)
	}
	if len(entries) != count {
		return nil, 0, fmt.Errorf("snapshot for %s has %d records, expected %d", drive, len(entries), count)
	}

	return entries, uint64(gen), nil
}

// DropDrive removes drive's stored generation. Dropping a drive that
// has none is a no-op.
func (c *Catalog) DropDrive(ctx context.Context, drive string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("snapshot catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE drive = ?`, drive); err != nil {
		return fmt.Errorf("failed to drop records for %s: %w", drive, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE drive = ?`, drive); err != nil {
		return fmt.Errorf("failed to drop generation for %s: %w", drive, err)
	}

	return tx.Commit()
}

// Drives returns every drive with a stored generation.
func (c *Catalog) Drives(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("snapshot catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, `SELECT drive FROM generations ORDER BY drive`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drives: %w", err)
	}
	defer rows.Close()

	var drives []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		drives = append(drives, d)
	}
	return drives, rows.Err()
}

// DB exposes the underlying handle so the telemetry store can share
// the catalog database and its single-writer pool.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// Path returns the catalog file path, empty for in-memory catalogs.
func (c *Catalog) Path() string {
	return c.path
}

// Close closes the catalog. Safe to call twice.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
