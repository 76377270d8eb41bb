package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"nodes", "node_labels", "rels", "touched", "meta"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("Open() succeeded on a newer schema version")
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestCaptureState_DefaultsToAbsent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	var got CaptureState
	if err := s.View(ctx, func(r Reader) error {
		var err error
		got, err = r.CaptureState(ctx)
		return err
	}); err != nil {
		t.Fatalf("View() failed: %v", err)
	}
	if got != CaptureAbsent {
		t.Errorf("CaptureState() = %q, want %q", got, CaptureAbsent)
	}

	if err := s.Update(ctx, func(tx *Tx) error {
		return tx.SetCaptureState(ctx, CaptureActive)
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if err := s.View(ctx, func(r Reader) error {
		var err error
		got, err = r.CaptureState(ctx)
		return err
	}); err != nil {
		t.Fatalf("View() failed: %v", err)
	}
	if got != CaptureActive {
		t.Errorf("CaptureState() = %q, want %q", got, CaptureActive)
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithIDGenerator(NewSequentialGenerator("n")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err = s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.CreateNode(ctx, []string{"Entity"}, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	err = s.View(ctx, func(r Reader) error {
		_, err := r.Node(ctx, "n-1")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("node survived rollback: err = %v", err)
	}
}
