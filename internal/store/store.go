// Package store owns the table of temporary download links. Every
// mutation of a link record goes through the Store, which serializes
// them behind one lock and mirrors each change to the snapshot file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/model"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/tier"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/token"
)

// Redemption failures, returned as typed errors so the request layer can
// render a precise message.
var (
	ErrNotFound  = errors.New("link not found")
	ErrExpired   = errors.New("link expired")
	ErrExhausted = errors.New("download limit reached")
)

// maxTokenAttempts bounds the collision retry loop in Create. UUID
// collisions are practically unreachable; hitting this limit means the
// entropy source is broken.
const maxTokenAttempts = 5

// Store is the authoritative in-memory link table, backed by a persisted
// snapshot. All access is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	saveMu sync.Mutex
	links  map[string]*model.LinkRecord

	policy  *tier.Policy
	persist *persister
	now     func() time.Time
}

// New creates a store backed by the snapshot file at path, reloading any
// previously persisted links. A corrupt snapshot is logged and discarded
// rather than aborting startup.
func New(path string, policy *tier.Policy) (*Store, error) {
	if policy == nil {
		return nil, fmt.Errorf("tier policy is required")
	}

	p := newPersister(path)
	links, err := p.load()
	if err != nil {
		log.Printf("Warning: could not load link snapshot %s, starting empty: %v", path, err)
		links = make(map[string]*model.LinkRecord)
	}
	if n := len(links); n > 0 {
		log.Printf("Loaded %d link(s) from %s", n, path)
	}

	return &Store{
		links:   links,
		policy:  policy,
		persist: p,
		now:     time.Now,
	}, nil
}

// Create issues a new active link for a finished file. The expiry and
// download quota come from the tier policy and are fixed for the life of
// the record.
func (s *Store) Create(filePath string, sizeBytes int64) (model.LinkRecord, error) {
	t, err := s.policy.Classify(sizeBytes)
	if err != nil {
		return model.LinkRecord{}, err
	}

	s.mu.Lock()

	tok, err := s.uniqueTokenLocked()
	if err != nil {
		s.mu.Unlock()
		return model.LinkRecord{}, err
	}

	now := s.now()
	rec := &model.LinkRecord{
		Token:        tok,
		FilePath:     filePath,
		SizeBytes:    sizeBytes,
		CreatedAt:    now,
		ExpiresAt:    now.Add(t.Expiry),
		MaxDownloads: t.MaxDownloads,
		Status:       model.StatusActive,
	}
	s.links[tok] = rec

	out := *rec
	s.flushLocked()
	return out, nil
}

// uniqueTokenLocked generates a token not already present in the table.
// The caller must hold mu.
func (s *Store) uniqueTokenLocked() (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		tok, err := token.New()
		if err != nil {
			return "", err
		}
		if _, exists := s.links[tok]; !exists {
			return tok, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique token after %d attempts", maxTokenAttempts)
}

// Get returns a copy of the record for the given token.
func (s *Store) Get(tok string) (model.LinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.links[tok]
	if !ok {
		return model.LinkRecord{}, ErrNotFound
	}
	return *rec, nil
}

// TryRedeem atomically validates the token and consumes one download.
// Expiry is checked before quota, so a link that is both past its expiry
// and out of downloads always reports ErrExpired. Under concurrent calls
// on the same token, at most MaxDownloads redemptions ever succeed.
func (s *Store) TryRedeem(tok string) (model.LinkRecord, error) {
	s.mu.Lock()

	rec, ok := s.links[tok]
	if !ok {
		s.mu.Unlock()
		return model.LinkRecord{}, ErrNotFound
	}

	if rec.Status == model.StatusExpired || rec.ExpiredAt(s.now()) {
		s.mu.Unlock()
		return model.LinkRecord{}, ErrExpired
	}
	if rec.Status != model.StatusActive || rec.Exhausted() {
		s.mu.Unlock()
		return model.LinkRecord{}, ErrExhausted
	}

	rec.DownloadCount++
	out := *rec
	s.flushLocked()
	return out, nil
}

// MarkTerminal records that a link can no longer be redeemed. Legal
// transitions are active → expired/exhausted and any terminal state →
// deleted; everything else, including repeats, is a no-op.
func (s *Store) MarkTerminal(tok string, status model.Status) {
	if !status.Terminal() {
		return
	}

	s.mu.Lock()

	rec, ok := s.links[tok]
	if !ok || rec.Status == status || rec.Status == model.StatusDeleted {
		s.mu.Unlock()
		return
	}
	if rec.Status != model.StatusActive && status != model.StatusDeleted {
		s.mu.Unlock()
		return
	}

	rec.Status = status
	s.flushLocked()
}

// Remove drops the record from the table once its backing file is gone.
// Removing an absent token is a no-op.
func (s *Store) Remove(tok string) {
	s.mu.Lock()

	if _, ok := s.links[tok]; !ok {
		s.mu.Unlock()
		return
	}

	delete(s.links, tok)
	s.flushLocked()
}

// Snapshot returns a copy of every record, ordered by creation time.
// Reclamation scans work on this copy, so the table may grow or shrink
// underneath them without affecting the scan.
func (s *Store) Snapshot() []model.LinkRecord {
	s.mu.Lock()
	out := make([]model.LinkRecord, 0, len(s.links))
	for _, rec := range s.links {
		out = append(out, *rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Count returns the number of records currently in the table.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Close waits for any in-flight snapshot write and persists the final
// state.
func (s *Store) Close() {
	s.mu.Lock()
	s.flushLocked()
}

// flushLocked serializes the table and writes it to the snapshot file.
// The caller must hold mu; flushLocked releases it once serialization is
// done, so the disk write never blocks other operations. The save lock is
// acquired before mu is released, which keeps snapshot writes in mutation
// order: a snapshot can never be older than the last acknowledged change.
func (s *Store) flushLocked() {
	data, err := json.MarshalIndent(s.links, "", "  ")

	s.saveMu.Lock()
	s.mu.Unlock()
	defer s.saveMu.Unlock()

	if err != nil {
		log.Printf("Error: failed to serialize link table: %v", err)
		return
	}
	if err := s.persist.write(data); err != nil {
		// In-memory state stays authoritative; the next successful
		// write catches the snapshot up.
		log.Printf("Warning: failed to persist link snapshot: %v", err)
	}
}
