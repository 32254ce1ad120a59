// Package reclaim runs the background pass that turns dead links into
// freed disk space: expired or exhausted records are marked terminal,
// their backing files deleted, and the records removed from the store.
package reclaim

import (
	"log"
	"os"
	"time"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/model"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/store"
)

// Reclaimer periodically scans the link store and reclaims storage held
// by terminal links. Deletion is exclusively its job; the request layer
// never removes files.
type Reclaimer struct {
	store    *store.Store
	interval time.Duration
	stopChan chan struct{}
	now      func() time.Time
}

// New creates a reclaimer scanning the store at the given interval.
func New(s *store.Store, interval time.Duration) *Reclaimer {
	return &Reclaimer{
		store:    s,
		interval: interval,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins the periodic reclamation pass. One pass runs immediately
// so links left over from a previous run are reclaimed on startup.
func (r *Reclaimer) Start() {
	go func() {
		r.RunOnce()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.RunOnce()
			case <-r.stopChan:
				log.Println("Reclamation scheduler stopped")
				return
			}
		}
	}()
	log.Printf("Reclamation scheduler started, scanning every %v", r.interval)
}

// Stop halts the periodic pass. An in-progress pass finishes on its own.
func (r *Reclaimer) Stop() {
	close(r.stopChan)
}

// RunOnce performs a single reclamation pass and returns the number of
// links fully reclaimed. The pass works on a snapshot of the store, so
// links created while it runs are simply picked up next time. A file
// whose deletion fails stays terminal and is retried on the next pass;
// each file gets one attempt per pass so a stuck path cannot stall the
// scan.
func (r *Reclaimer) RunOnce() int {
	now := r.now()
	reclaimed := 0
	records := r.store.Snapshot()

	for i := range records {
		rec := &records[i]

		if rec.Status == model.StatusActive {
			switch {
			case rec.ExpiredAt(now):
				r.store.MarkTerminal(rec.Token, model.StatusExpired)
			case rec.Exhausted():
				r.store.MarkTerminal(rec.Token, model.StatusExhausted)
			default:
				continue
			}
		}

		if err := removeFile(rec.FilePath); err != nil {
			log.Printf("Error: could not delete %s for link %s, will retry: %v", rec.FilePath, rec.Token, err)
			continue
		}

		r.store.MarkTerminal(rec.Token, model.StatusDeleted)
		r.store.Remove(rec.Token)
		reclaimed++
	}

	if reclaimed > 0 {
		log.Printf("Reclamation pass complete: reclaimed %d of %d link(s)", reclaimed, len(records))
	}
	return reclaimed
}

// removeFile deletes the backing file. A file that is already gone counts
// as deleted, which makes overlapping passes and crash-retry safe.
func removeFile(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return err
}
