package filelock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSharedHoldersExcludeExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads", ".lock")

	a, err := Shared(path)
	if err != nil {
		t.Fatalf("Shared a: %v", err)
	}
	b, err := Shared(path)
	if err != nil {
		t.Fatalf("Shared b: %v", err)
	}
	if _, err := Exclusive(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("Exclusive with shared holders: want ErrLocked, got=%v", err)
	}

	_ = a.Release()
	if _, err := Exclusive(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("Exclusive with one shared holder left: want ErrLocked, got=%v", err)
	}
	_ = b.Release()

	x, err := Exclusive(path)
	if err != nil {
		t.Fatalf("Exclusive after release: %v", err)
	}
	if _, err := Shared(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("Shared while exclusive held: want ErrLocked, got=%v", err)
	}
	if err := x.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := x.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Fatalf("nil Release: %v", err)
	}
}
