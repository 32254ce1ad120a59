package model

import "time"

// Status describes where a link is in its lifecycle. A link starts active
// and converges to deleted; it never returns to active.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
	StatusDeleted   Status = "deleted"
)

// Terminal reports whether the status can no longer go back to active.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusExhausted || s == StatusDeleted
}

// LinkRecord is the bookkeeping entry for one issued download token.
// Token, FilePath, SizeBytes, CreatedAt, ExpiresAt and MaxDownloads are
// fixed at creation; only DownloadCount and Status change afterwards.
type LinkRecord struct {
	Token         string    `json:"token"`
	FilePath      string    `json:"file_path"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	DownloadCount int       `json:"download_count"`
	MaxDownloads  int       `json:"max_downloads"`
	Status        Status    `json:"status"`
}

// ExpiredAt reports whether the link's expiry has passed at the given time.
func (r *LinkRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Exhausted reports whether the download quota has been used up.
func (r *LinkRecord) Exhausted() bool {
	return r.DownloadCount >= r.MaxDownloads
}

// RemainingDownloads returns how many redemptions are left.
func (r *LinkRecord) RemainingDownloads() int {
	remaining := r.MaxDownloads - r.DownloadCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
