// Package store is the SQLite content store holding one row per ingested slide.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/slidebank/slidebank/query"
)

// driverName is go-sqlite3 with the query fold function registered on every
// connection.
const driverName = "sqlite3_slidebank"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc(query.FoldFunc, query.Fold, true)
			},
		})
	})
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// SlideRecord represents a row in the slides table.
type SlideRecord struct {
	ID           int64  `json:"id"`
	DeckHash     string `json:"deck_hash"`
	SlideHash    string `json:"slide_hash"`
	DeckName     string `json:"deck_name"`
	DeckModified string `json:"deck_modified"`
	DeckPath     string `json:"deck_path"`
	SlideNumber  int    `json:"slide_number"`
	Text         string `json:"text"`
	Notes        string `json:"notes"`
}

// Deck identifies one ingested deck file. It is recorded even when the deck
// has no slides so that re-ingesting it is still detected.
type Deck struct {
	Hash     string `json:"deck_hash"`
	Name     string `json:"deck_name"`
	Path     string `json:"deck_path"`
	Modified string `json:"deck_modified"`
}

// SlideRef locates a slide inside its source deck.
type SlideRef struct {
	SlideHash   string `json:"slide_hash"`
	DeckPath    string `json:"deck_path"`
	SlideNumber int    `json:"slide_number"`
}

// Batch represents a row in the ingest_batches table.
type Batch struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Ingested   int
	Skipped    int
	Failed     int
}

// Store wraps the SQLite database for all slidebank persistence.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	registerDriver()
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, logger: logger}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Slide operations ---

// CountByDeckHash returns the number of stored slides for a deck hash.
func (s *Store) CountByDeckHash(ctx context.Context, deckHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM slides WHERE deck_hash = ?", deckHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting slides: %w", err)
	}
	return n, nil
}

// HasDeck reports whether a deck with this content hash was ingested.
func (s *Store) HasDeck(ctx context.Context, deckHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM decks WHERE deck_hash = ?", deckHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("looking up deck: %w", err)
	}
	return n > 0, nil
}

// InsertDeck writes the deck row and every slide of the deck in a single
// transaction. Rows are insert-or-replace, so re-inserting identical content
// is idempotent. Either all rows are written or none.
func (s *Store) InsertDeck(ctx context.Context, d Deck, slides []SlideRecord) ([]int64, error) {
	ids := make([]int64, 0, len(slides))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO decks (
				deck_hash, deck_name, deck_path, deck_modified, slide_count, ingested_at
			) VALUES (?, ?, ?, ?, ?, ?)
		`, d.Hash, d.Name, d.Path, d.Modified, len(slides), time.Now().UTC()); err != nil {
			return fmt.Errorf("inserting deck: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO slides (
				deck_hash, slide_hash, deck_name, deck_modified,
				deck_path, slide_number, text, notes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range slides {
			res, err := stmt.ExecContext(ctx,
				r.DeckHash, r.SlideHash, r.DeckName, r.DeckModified,
				r.DeckPath, r.SlideNumber, r.Text, r.Notes)
			if err != nil {
				return fmt.Errorf("inserting slide %d: %w", r.SlideNumber, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetSlidesByDeck returns the slides of one deck ordered by slide number.
func (s *Store) GetSlidesByDeck(ctx context.Context, deckHash string) ([]SlideRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+slideColumns+` FROM slides
		WHERE deck_hash = ? ORDER BY slide_number
	`, deckHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlides(rows)
}

// Search returns the slides matching p, ordered by deck name and slide number.
func (s *Store) Search(ctx context.Context, p query.Predicate) ([]SlideRecord, error) {
	q := "SELECT " + slideColumns + " FROM slides"
	if p.Where != "" {
		q += " " + p.Where
	}
	q += " ORDER BY deck_name, deck_hash, slide_number"

	rows, err := s.db.QueryContext(ctx, q, p.Args...)
	if err != nil {
		return nil, fmt.Errorf("searching slides: %w", err)
	}
	defer rows.Close()
	return scanSlides(rows)
}

// ResolveSlide maps a slide hash to its source deck path and slide number.
// When several rows share the hash (identical content in different decks)
// the first ingested row wins.
func (s *Store) ResolveSlide(ctx context.Context, slideHash string) (SlideRef, error) {
	ref := SlideRef{SlideHash: slideHash}
	err := s.db.QueryRowContext(ctx, `
		SELECT deck_path, slide_number FROM slides
		WHERE slide_hash = ? ORDER BY id LIMIT 1
	`, slideHash).Scan(&ref.DeckPath, &ref.SlideNumber)
	if err == sql.ErrNoRows {
		return ref, fmt.Errorf("%w: slide %s", ErrNotFound, slideHash)
	}
	if err != nil {
		return ref, fmt.Errorf("resolving slide: %w", err)
	}
	return ref, nil
}

// GetSlidesByHashes returns every row whose slide hash is in hashes.
func (s *Store) GetSlidesByHashes(ctx context.Context, hashes []string) ([]SlideRecord, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+slideColumns+" FROM slides WHERE slide_hash IN ("+placeholders(len(hashes))+") ORDER BY id",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlides(rows)
}

// CountSlides returns the total number of stored slides.
func (s *Store) CountSlides(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM slides").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// --- Batch log ---

// StartBatch records the start of an ingest batch.
func (s *Store) StartBatch(ctx context.Context, id string, started time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ingest_batches (id, started_at) VALUES (?, ?)",
		id, started.UTC())
	return err
}

// FinishBatch stores the final counts of an ingest batch.
func (s *Store) FinishBatch(ctx context.Context, b Batch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_batches
		SET finished_at = ?, ingested = ?, skipped = ?, failed = ?
		WHERE id = ?
	`, b.FinishedAt.UTC(), b.Ingested, b.Skipped, b.Failed, b.ID)
	return err
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	b := &Batch{}
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, ingested, skipped, failed
		FROM ingest_batches WHERE id = ?
	`, id).Scan(&b.ID, &b.StartedAt, &finished, &b.Ingested, &b.Skipped, &b.Failed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	b.FinishedAt = finished.Time
	return b, nil
}

// --- helpers ---

const slideColumns = "id, deck_hash, slide_hash, deck_name, deck_modified, deck_path, slide_number, text, notes"

func scanSlides(rows *sql.Rows) ([]SlideRecord, error) {
	var out []SlideRecord
	for rows.Next() {
		var r SlideRecord
		if err := rows.Scan(&r.ID, &r.DeckHash, &r.SlideHash, &r.DeckName,
			&r.DeckModified, &r.DeckPath, &r.SlideNumber, &r.Text, &r.Notes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
