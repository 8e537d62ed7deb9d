// Package id generates identifiers for crawl runs.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRunID returns a UUIDv7 so run ids sort by start time.
func NewRunID() (uuid.UUID, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return runID, nil
}
