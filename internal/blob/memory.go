package blob

import (
	infraMemory "zonecore/internal/infra/blob/memory"
)

// NewMemory constructs an in-memory blob.Store for tests and ephemeral runs.
func NewMemory() Store {
	return infraMemory.New()
}
