package tier

import (
	"fmt"
	"time"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/config"
)

// Tier is one resolved size bracket: how long a link to a file of this
// size stays valid, and how often it may be downloaded.
type Tier struct {
	Name         string
	MaxSizeMB    float64 // 0 on the unbounded catch-all tier
	Expiry       time.Duration
	MaxDownloads int
}

// Policy classifies file sizes against an ordered tier table. It is
// immutable after construction and safe for concurrent use.
type Policy struct {
	tiers []Tier
}

// NewPolicy builds a policy from the configured thresholds. defaultQuota
// applies to tiers that do not override max_downloads.
func NewPolicy(thresholds []config.TierThreshold, defaultQuota int) (*Policy, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("tier table is empty")
	}
	if defaultQuota <= 0 {
		return nil, fmt.Errorf("default download quota must be greater than 0")
	}

	tiers := make([]Tier, 0, len(thresholds))
	prevBound := 0.0
	for i, th := range thresholds {
		if th.ExpiryHours <= 0 {
			return nil, fmt.Errorf("tier %q: expiry must be greater than 0", th.Name)
		}
		if th.MaxSizeMB > 0 && th.MaxSizeMB <= prevBound {
			return nil, fmt.Errorf("tier %q: size bounds must be strictly ascending", th.Name)
		}
		if th.MaxSizeMB <= 0 && i != len(thresholds)-1 {
			return nil, fmt.Errorf("tier %q: only the last tier may be unbounded", th.Name)
		}
		if th.MaxSizeMB > 0 {
			prevBound = th.MaxSizeMB
		}

		quota := th.MaxDownloads
		if quota == 0 {
			quota = defaultQuota
		}
		tiers = append(tiers, Tier{
			Name:         th.Name,
			MaxSizeMB:    th.MaxSizeMB,
			Expiry:       time.Duration(th.ExpiryHours) * time.Hour,
			MaxDownloads: quota,
		})
	}

	return &Policy{tiers: tiers}, nil
}

// Classify returns the tier a file of the given size falls into. A size
// exactly on a tier's bound belongs to that tier; sizes past every bound
// fall into the last tier.
func (p *Policy) Classify(sizeBytes int64) (Tier, error) {
	if sizeBytes < 0 {
		return Tier{}, fmt.Errorf("negative file size: %d", sizeBytes)
	}

	sizeMB := float64(sizeBytes) / (1024 * 1024)
	for _, t := range p.tiers {
		if t.MaxSizeMB <= 0 || sizeMB <= t.MaxSizeMB {
			return t, nil
		}
	}

	// The table always ends with a tier that accepts everything, either
	// unbounded or the largest bound; sizes past it land there too.
	return p.tiers[len(p.tiers)-1], nil
}

// Tiers returns a copy of the resolved table, largest bound last.
func (p *Policy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers))
	copy(out, p.tiers)
	return out
}
