// Package retrieval models ERA5 data requests and the client that hands
// finished files to the link manager. The link manager treats the client
// as a black box: all it ever sees is a file path and a size.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Request describes one ERA5 retrieval in CDS API terms.
type Request struct {
	ProductType   string    `json:"product_type"`
	Variable      []string  `json:"variable"`
	PressureLevel []string  `json:"pressure_level,omitempty"`
	Year          []string  `json:"year"`
	Month         []string  `json:"month"`
	Day           []string  `json:"day"`
	Time          []string  `json:"time"`
	Area          []float64 `json:"area,omitempty"` // north, west, south, east
	Format        string    `json:"data_format,omitempty"`
}

// Validate checks the request for fields the CDS API would reject anyway.
func (r Request) Validate() error {
	if r.ProductType == "" {
		return fmt.Errorf("product_type is required")
	}
	if len(r.Variable) == 0 {
		return fmt.Errorf("at least one variable is required")
	}
	if len(r.Year) == 0 || len(r.Month) == 0 || len(r.Day) == 0 {
		return fmt.Errorf("year, month and day are required")
	}
	if len(r.Time) == 0 {
		return fmt.Errorf("at least one time is required")
	}
	if len(r.Area) != 0 && len(r.Area) != 4 {
		return fmt.Errorf("area must have exactly 4 values (north, west, south, east)")
	}
	switch r.Format {
	case "", "netcdf", "grib":
	default:
		return fmt.Errorf("unsupported data_format %q", r.Format)
	}
	return nil
}

// Signature returns a stable identity for the request: the SHA-256 of
// its normalized JSON form. List values are sorted so two requests that
// differ only in ordering share one cache entry.
func (r Request) Signature() string {
	norm := map[string]any{
		"product_type":   r.ProductType,
		"variable":       sortedCopy(r.Variable),
		"pressure_level": sortedCopy(r.PressureLevel),
		"year":           sortedCopy(r.Year),
		"month":          sortedCopy(r.Month),
		"day":            sortedCopy(r.Day),
		"time":           sortedCopy(r.Time),
		"area":           r.Area,
		"data_format":    r.Format,
	}

	// Maps marshal with sorted keys, so the payload is deterministic.
	payload, err := json.Marshal(norm)
	if err != nil {
		// Only plain strings and floats end up in norm.
		panic(fmt.Sprintf("retrieval: signature marshal failed: %v", err))
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

// Result is what a finished retrieval hands to the link manager.
type Result struct {
	Filename  string
	FilePath  string
	SizeBytes int64
}

// Retriever fetches the requested data into a local file.
type Retriever interface {
	Retrieve(ctx context.Context, req Request) (Result, error)
}
