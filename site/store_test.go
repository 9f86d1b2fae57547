package site

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	// Deterministic, strictly increasing timestamps.
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func mustSave(t *testing.T, s *Store, typ Type, url, version string, build *int) SaveOutcome {
	t.Helper()
	outcome, err := s.Save(context.Background(), typ, url, version, build)
	if err != nil {
		t.Fatalf("Save(%s, %s, %s) failed: %v", typ, url, version, err)
	}
	return outcome
}

func mustCount(t *testing.T, s *Store, typ Type) int {
	t.Helper()
	n, err := s.Count(context.Background(), typ)
	if err != nil {
		t.Fatalf("Count(%s) failed: %v", typ, err)
	}
	return n
}

func TestSaveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	url := "https://huggingface.co/datasets/x/resolve/main/android/rwkv_chat_3.4.0_609.apk"

	if got := mustSave(t, s, AndroidHF, url, "3.4.0", intPtr(609)); got != Inserted {
		t.Errorf("first Save() = %s, want inserted", got)
	}
	if got := mustSave(t, s, AndroidHF, url, "3.4.0", intPtr(609)); got != Unchanged {
		t.Errorf("second Save() = %s, want unchanged", got)
	}
	if n := mustCount(t, s, AndroidHF); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestSaveNullBuildIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	url := "https://example.com/app-2.0.0.zip"

	mustSave(t, s, WinZipHF, url, "2.0.0", nil)
	mustSave(t, s, WinZipHF, url, "2.0.0", nil)
	if n := mustCount(t, s, WinZipHF); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	// A build on the same url and version is a distinct observation.
	if got := mustSave(t, s, WinZipHF, url, "2.0.0", intPtr(3)); got != Inserted {
		t.Errorf("Save() with build = %s, want inserted", got)
	}
	if n := mustCount(t, s, WinZipHF); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestSaveFixedURLUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://apps.apple.com/app/id6740192639"

	mustSave(t, s, IOSAS, url, "3.4.0", nil)
	if got := mustSave(t, s, IOSAS, url, "3.4.0", nil); got != Unchanged {
		t.Errorf("repeat Save() = %s, want unchanged", got)
	}
	if got := mustSave(t, s, IOSAS, url, "3.5.0", nil); got != Updated {
		t.Errorf("new version Save() = %s, want updated", got)
	}
	if n := mustCount(t, s, IOSAS); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}

	records, err := s.ListByType(ctx, IOSAS)
	if err != nil {
		t.Fatalf("ListByType() failed: %v", err)
	}
	r := records[0]
	if r.Version != "3.5.0" {
		t.Errorf("Version = %q, want 3.5.0", r.Version)
	}
	if !r.UpdatedAt.After(r.CreatedAt) {
		t.Errorf("UpdatedAt %v should be after CreatedAt %v", r.UpdatedAt, r.CreatedAt)
	}
}

func TestLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustSave(t, s, AndroidGR, "https://example.com/a", "3.4.0", intPtr(100))
	mustSave(t, s, AndroidGR, "https://example.com/b", "3.5.0", nil)
	mustSave(t, s, AndroidGR, "https://example.com/c", "3.5.0", intPtr(50))
	mustSave(t, s, AndroidGooglePlay, "https://play.google.com/store/apps/details?id=x", LatestVersion, nil)

	latest, err := s.Latest(ctx, AndroidGR, AndroidGooglePlay, MacosHF)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("Latest() returned %d types, want 3", len(latest))
	}
	if r := latest[AndroidGR]; r == nil || r.URL != "https://example.com/c" {
		t.Errorf("latest androidGR = %+v, want url .../c", r)
	}
	if r := latest[AndroidGooglePlay]; r == nil || r.Version != LatestVersion {
		t.Errorf("latest androidGooglePlay = %+v, want version latest", r)
	}
	if r, ok := latest[MacosHF]; !ok || r != nil {
		t.Errorf("latest macosHF = %+v (present %v), want nil entry", r, ok)
	}

	all, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if len(all) != len(AllTypes) {
		t.Errorf("Latest() with no types returned %d entries, want %d", len(all), len(AllTypes))
	}
}

func TestListByTypeNewestFirst(t *testing.T) {
	s := newTestStore(t)
	mustSave(t, s, LinuxHF, "https://example.com/1", "1.0.0", nil)
	mustSave(t, s, LinuxHF, "https://example.com/2", "1.1.0", nil)

	records, err := s.ListByType(context.Background(), LinuxHF)
	if err != nil {
		t.Fatalf("ListByType() failed: %v", err)
	}
	if len(records) != 2 || records[0].URL != "https://example.com/2" {
		t.Errorf("ListByType() = %+v, want newest first", records)
	}
}

func TestListByTypeOrdersSubSecondTimestamps(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	times := []time.Time{base, base.Add(500 * time.Millisecond)}
	s.now = func() time.Time {
		next := times[0]
		times = times[1:]
		return next
	}

	mustSave(t, s, WinHF, "https://hf/win-3.4.0.exe", "3.4.0", nil)
	mustSave(t, s, WinHF, "https://hf/win-3.5.0.exe", "3.5.0", nil)

	records, err := s.ListByType(context.Background(), WinHF)
	if err != nil {
		t.Fatalf("ListByType() failed: %v", err)
	}
	if len(records) != 2 || records[0].Version != "3.5.0" {
		t.Fatalf("ListByType() = %+v, want 3.5.0 first", records)
	}
	if !records[0].CreatedAt.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("CreatedAt = %v, want %v", records[0].CreatedAt, base.Add(500*time.Millisecond))
	}
}

func TestPublicSetStripsIDs(t *testing.T) {
	set := PublicSet(map[Type]*Record{
		MacosHF: {ID: 7, Type: MacosHF, URL: "u", Version: "1.0.0"},
		LinuxHF: nil,
	})
	if set[LinuxHF] != nil {
		t.Errorf("nil record should stay nil, got %+v", set[LinuxHF])
	}
	if set[MacosHF].URL != "u" {
		t.Errorf("PublicSet() lost fields: %+v", set[MacosHF])
	}
}
