// Package store persists completed reconstruction documents so past
// runs can be listed and re-read from the CLI.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"retrace/internal/logging"

	_ "modernc.org/sqlite"
)

// Reconstruction is one archived run: the traced call, how the run
// ended, and the rendered document.
type Reconstruction struct {
	ID        string    `json:"id"`
	Module    string    `json:"module"`
	Function  string    `json:"function"`
	Arity     int       `json:"arity"`
	Status    string    `json:"status"` // complete, partial
	Document  string    `json:"document"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive is the SQLite-backed store of reconstruction documents.
// Thread-safe with a read-write mutex; writes are infrequent (one per
// completed run).
type Archive struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewArchive opens (creating if needed) the archive database at path.
func NewArchive(path string) (*Archive, error) {
	logging.StoreDebug("opening archive at %s", path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	a := &Archive{db: db, dbPath: path}
	if err := a.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	logging.Store("archive ready at %s", path)
	return a, nil
}

func (a *Archive) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reconstructions (
		id TEXT PRIMARY KEY,
		module TEXT NOT NULL,
		function TEXT NOT NULL,
		arity INTEGER NOT NULL,
		status TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_recon_target ON reconstructions(module, function, arity);
	CREATE INDEX IF NOT EXISTS idx_recon_created ON reconstructions(created_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Save persists one reconstruction.
func (a *Archive) Save(rec *Reconstruction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := a.db.Exec(
		`INSERT INTO reconstructions (id, module, function, arity, status, document, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Module, rec.Function, rec.Arity, rec.Status, rec.Document, rec.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("save reconstruction %s: %v", rec.ID, err)
		return fmt.Errorf("save reconstruction: %w", err)
	}
	logging.StoreDebug("archived reconstruction %s (%s:%s/%d, %s)", rec.ID, rec.Module, rec.Function, rec.Arity, rec.Status)
	return nil
}

// List returns the most recent reconstructions, newest first, without
// their document bodies.
func (a *Archive) List(limit int) ([]*Reconstruction, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(
		`SELECT id, module, function, arity, status, created_at
		 FROM reconstructions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reconstructions: %w", err)
	}
	defer rows.Close()

	var out []*Reconstruction
	for rows.Next() {
		r := &Reconstruction{}
		if err := rows.Scan(&r.ID, &r.Module, &r.Function, &r.Arity, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one reconstruction including its document.
func (a *Archive) Get(id string) (*Reconstruction, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r := &Reconstruction{}
	err := a.db.QueryRow(
		`SELECT id, module, function, arity, status, document, created_at
		 FROM reconstructions WHERE id = ?`, id).
		Scan(&r.ID, &r.Module, &r.Function, &r.Arity, &r.Status, &r.Document, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reconstruction %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
