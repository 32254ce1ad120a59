package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/model"
)

// persister reads and writes the link snapshot file: a JSON object keyed
// by token, one record per link. Writes go to a fresh temp file in the
// same directory and replace the snapshot with a rename, so a crash
// mid-write leaves the previous snapshot intact.
type persister struct {
	path string
}

func newPersister(path string) *persister {
	return &persister{path: path}
}

// load reads the snapshot from disk. A missing file is not an error and
// yields an empty table; a corrupt file is returned as an error so the
// caller can decide to start empty.
func (p *persister) load() (map[string]*model.LinkRecord, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*model.LinkRecord), nil
		}
		return nil, fmt.Errorf("failed to read link snapshot: %w", err)
	}

	links := make(map[string]*model.LinkRecord)
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("invalid link snapshot format: %w", err)
	}

	for tok, rec := range links {
		if rec == nil {
			delete(links, tok)
			continue
		}
		// The map key is authoritative for the token.
		rec.Token = tok
		if rec.Status == "" {
			rec.Status = model.StatusActive
		}
	}

	return links, nil
}

// write atomically replaces the snapshot with the given serialized table.
func (p *persister) write(data []byte) error {
	dir := filepath.Dir(p.path)

	tmp, err := os.CreateTemp(dir, ".links-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}
