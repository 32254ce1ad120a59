// Package token generates the opaque identifiers handed out for
// temporary download links.
package token

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random version-4 UUID string. The 122 bits of entropy
// make enumeration infeasible; an error here means the system entropy
// source itself failed and the caller should treat it as fatal.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return id.String(), nil
}
