package blob_test

import (
	"context"
	"testing"

	"zonecore/internal/blob"
)

func TestOpenSelectsMemoryDriver(t *testing.T) {
	t.Setenv("ZONECORE_BLOB_DRIVER", "memory")
	store, err := blob.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != blob.DriverMemory {
		t.Fatalf("driver = %s, want %s", store.Driver(), blob.DriverMemory)
	}
}

func TestOpenSelectsFilesystemDriver(t *testing.T) {
	t.Setenv("ZONECORE_BLOB_DRIVER", "fs")
	t.Setenv("ZONECORE_BLOB_FS_ROOT", t.TempDir())
	store, err := blob.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != blob.DriverFilesystem {
		t.Fatalf("driver = %s, want %s", store.Driver(), blob.DriverFilesystem)
	}
}

func TestOpenDefaultsToFilesystem(t *testing.T) {
	t.Setenv("ZONECORE_BLOB_DRIVER", "")
	t.Setenv("ZONECORE_BLOB_FS_ROOT", t.TempDir())
	store, err := blob.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != blob.DriverFilesystem {
		t.Fatalf("driver = %s, want %s", store.Driver(), blob.DriverFilesystem)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Setenv("ZONECORE_BLOB_DRIVER", "tape")
	if _, err := blob.Open(context.Background()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}
