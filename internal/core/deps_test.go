package core

import (
	"testing"

	"zonecore/testutil"
)

// The engines operate on domain types and interfaces only; concrete storage
// and metrics backends are injected from the outside.
func TestCoreDoesNotImportInfra(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden,
		"internal/core must not import internal/infra packages")
}
