package index

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps all indexes in one SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations. It is a no-op when the schema is current.
func (s *SQLiteStore) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and dirty flag. A fresh
// database reports 0.
func (s *SQLiteStore) SchemaVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *SQLiteStore) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger forwards migrate output to slog.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Debug("migrate", "message", fmt.Sprintf(format, v...))
}

func (migrateLogger) Verbose() bool { return false }

// Load reads a book's index. Rows that fail to decode make the whole index absent.
func (s *SQLiteStore) Load(ctx context.Context, bookID string) (*balloon.Index, bool, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM books WHERE book_id = ?`, bookID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query book: %w", err)
	}
	if version != FormatVersion {
		slog.Warn("Ignoring index with unsupported version", "book", bookID, "version", version)
		return nil, false, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT page_number, page_width, page_height, balloons FROM pages WHERE book_id = ? ORDER BY page_number`,
		bookID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	idx := balloon.NewIndex(bookID)
	for rows.Next() {
		var (
			p   balloon.PageBalloons
			raw string
		)
		if err := rows.Scan(&p.PageIndex, &p.PageWidth, &p.PageHeight, &raw); err != nil {
			return nil, false, fmt.Errorf("failed to scan page: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &p.Balloons); err != nil {
			slog.Warn("Ignoring corrupt index", "book", bookID, "page", p.PageIndex, "error", err)
			return nil, false, nil
		}
		if err := p.Validate(); err != nil {
			slog.Warn("Ignoring corrupt index", "book", bookID, "error", err)
			return nil, false, nil
		}
		if p.Balloons == nil {
			p.Balloons = []balloon.Balloon{}
		}
		idx.Pages[p.PageIndex] = p
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to read pages: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE books SET opened_at = ? WHERE book_id = ?`,
		s.now().UnixNano(), bookID); err != nil {
		slog.Debug("Failed to touch index", "book", bookID, "error", err)
	}
	return idx, true, nil
}

// Save replaces every stored page of the book in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, bookID string, idx *balloon.Index) error {
	if idx == nil {
		return errNilIndex
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO books (book_id, version, opened_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(book_id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		bookID, FormatVersion, now, now); err != nil {
		return fmt.Errorf("failed to upsert book: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("failed to clear pages: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pages (book_id, page_number, page_width, page_height, balloons) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, n := range idx.PageNumbers() {
		p := idx.Pages[n]
		bs := p.Balloons
		if bs == nil {
			bs = []balloon.Balloon{}
		}
		raw, err := json.Marshal(bs)
		if err != nil {
			return fmt.Errorf("failed to encode page %d: %w", n, err)
		}
		if _, err := stmt.ExecContext(ctx, bookID, n, p.PageWidth, p.PageHeight, string(raw)); err != nil {
			return fmt.Errorf("failed to insert page %d: %w", n, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	slog.Debug("Saved index", "book", bookID, "pages", idx.Len())
	return nil
}

// Clear removes a book's index.
func (s *SQLiteStore) Clear(ctx context.Context, bookID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("failed to clear pages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("failed to clear book: %w", err)
	}
	return tx.Commit()
}

// Prune removes books neither opened nor saved since cutoff and returns their IDs.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT book_id FROM books WHERE MAX(opened_at, updated_at) < ?`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale books: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		stale = append(stale, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}

	for _, id := range stale {
		if err := s.Clear(ctx, id); err != nil {
			return nil, err
		}
	}
	return sortedIDs(stale), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
