// Package cache indexes finished retrievals by request signature, so a
// repeated request can be re-linked without fetching the data again.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry records one cached retrieval result.
type Entry struct {
	Signature string    `json:"signature"`
	Filename  string    `json:"filename"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Index is a SQLite-backed retrieval cache.
type Index struct {
	db *sql.DB
}

// Open creates or opens the cache index at the given path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS retrievals (
			signature TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

// Put inserts or replaces the entry for its signature.
func (i *Index) Put(e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}

	stmt, err := i.db.Prepare(`
		INSERT OR REPLACE INTO retrievals (signature, data) VALUES (?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(e.Signature, string(value))
	return err
}

// Lookup returns the entry for a signature; the second return value is
// false on a cache miss.
func (i *Index) Lookup(signature string) (Entry, bool, error) {
	var data string

	err := i.db.QueryRow("SELECT data FROM retrievals WHERE signature = ?", signature).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("corrupt cache entry %s: %w", signature, err)
	}
	return entry, true, nil
}

// Delete removes the entry for a signature, if present.
func (i *Index) Delete(signature string) error {
	stmt, err := i.db.Prepare("DELETE FROM retrievals WHERE signature = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(signature)
	return err
}

// All lists every cached entry.
func (i *Index) All() ([]Entry, error) {
	rows, err := i.db.Query("SELECT data FROM retrievals")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
