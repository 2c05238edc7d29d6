package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"rsmgrid/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "runs.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRun(created time.Time, scans ...int) *Run {
	return &Run{
		Created:      created,
		SpecFile:     "/data/sample.spec",
		Scans:        scans,
		Resolution:   [3]int{50, 40, 30},
		Bounds:       models.Box{{Min: -0.1, Max: 0.1}, {Min: 0.9, Max: 1.1}, {Min: 1.5, Max: 2.5}},
		Samples:      1234567,
		FilledVoxels: 4321,
		TotalVoxels:  60000,
		Output:       "out.rsv.xz",
		Duration:     1500 * time.Millisecond,
	}
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := testRun(time.Time{}, 14, 15)
	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if run.ID == uuid.Nil {
		t.Fatal("Expected Record to assign an ID")
	}
	if run.Created.IsZero() {
		t.Fatal("Expected Record to set the creation time")
	}

	got, err := s.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != run.ID || got.SpecFile != run.SpecFile || got.Output != run.Output {
		t.Errorf("Unexpected run %+v", got)
	}
	if len(got.Scans) != 2 || got.Scans[0] != 14 || got.Scans[1] != 15 {
		t.Errorf("Expected scans [14 15], got %v", got.Scans)
	}
	if got.Resolution != run.Resolution || got.Bounds != run.Bounds {
		t.Errorf("Expected grid %v %v, got %v %v", run.Resolution, run.Bounds, got.Resolution, got.Bounds)
	}
	if got.Samples != run.Samples || got.FilledVoxels != run.FilledVoxels || got.TotalVoxels != run.TotalVoxels {
		t.Errorf("Unexpected counts %+v", got)
	}
	if got.Duration != run.Duration || !got.Created.Equal(run.Created) {
		t.Errorf("Expected %v at %v, got %v at %v", run.Duration, run.Created, got.Duration, got.Created)
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if runs, err := s.List(ctx, 0); err != nil || len(runs) != 0 {
		t.Fatalf("Expected empty catalog, got %v, %v", runs, err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, scan := range []int{7, 9, 8} {
		// Inserted out of chronological order
		created := base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour)
		if err := s.Record(ctx, testRun(created, scan)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	runs, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	for i, want := range []int{9, 8, 7} {
		if runs[i].Scans[0] != want {
			t.Errorf("Position %d: expected scan %d, got %d", i, want, runs[i].Scans[0])
		}
	}

	limited, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Scans[0] != 9 {
		t.Errorf("Expected the 2 newest runs, got %d", len(limited))
	}
}

func TestCloseTwice(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "runs.db"))
	if err := s.Record(context.Background(), testRun(time.Now(), 1)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestInts(t *testing.T) {
	got, err := parseInts(formatInts([]int{3, 14, 15}))
	if err != nil || len(got) != 3 || got[1] != 14 {
		t.Errorf("Unexpected %v, %v", got, err)
	}
	if got, err := parseInts(""); err != nil || got != nil {
		t.Errorf("Expected no scans, got %v, %v", got, err)
	}
	if _, err := parseInts("1,x"); err == nil {
		t.Error("Expected error for a malformed list")
	}
}
