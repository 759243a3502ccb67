package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeArchives(t *testing.T, dir string, ages ...time.Duration) []string {
	t.Helper()
	now := time.Now()
	var paths []string
	for i, age := range ages {
		p := filepath.Join(dir, FileName(string(rune('a'+i)), now.Add(-age)))
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
		mt := now.Add(-age)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestListArchives_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	paths := writeArchives(t, dir, 3*time.Hour, time.Hour, 2*time.Hour)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := ListArchives(dir)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	want := []string{paths[1], paths[2], paths[0]}
	if len(got) != len(want) {
		t.Fatalf("ListArchives() = %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Path != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i].Path, want[i])
		}
	}
}

func TestListArchives_MissingDir(t *testing.T) {
	got, err := ListArchives(filepath.Join(t.TempDir(), "nope"))
	if err != nil || got != nil {
		t.Errorf("ListArchives(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestApplyRetention_Count(t *testing.T) {
	dir := t.TempDir()
	paths := writeArchives(t, dir, time.Hour, 2*time.Hour, 3*time.Hour)

	deleted, err := ApplyRetention(dir, &CountPolicy{MaxCount: 2})
	if err != nil {
		t.Fatalf("ApplyRetention() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0] != paths[2] {
		t.Errorf("deleted = %v, want [%s]", deleted, paths[2])
	}
}

func TestAgePolicy(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := &AgePolicy{MaxAge: 24 * time.Hour, now: func() time.Time { return now }}
	archives := []ArchiveInfo{
		{Path: "new", CreatedAt: now.Add(-time.Hour)},
		{Path: "old", CreatedAt: now.Add(-48 * time.Hour)},
	}
	keep := p.Apply(archives)
	if len(keep) != 1 || keep[0].Path != "new" {
		t.Errorf("Apply() = %v, want [new]", keep)
	}
}

func TestCompositePolicy_Intersection(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	archives := []ArchiveInfo{
		{Path: "a", CreatedAt: now.Add(-time.Hour)},
		{Path: "b", CreatedAt: now.Add(-2 * time.Hour)},
		{Path: "c", CreatedAt: now.Add(-72 * time.Hour)},
	}
	p := &CompositePolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 1},
		&AgePolicy{MaxAge: 24 * time.Hour, now: func() time.Time { return now }},
	}}
	keep := p.Apply(archives)
	if len(keep) != 1 || keep[0].Path != "a" {
		t.Errorf("Apply() = %v, want [a]", keep)
	}
}

func TestFileSink_Retention(t *testing.T) {
	dir := t.TempDir()
	writeArchives(t, dir, time.Hour, 2*time.Hour)

	sink := &FileSink{Dir: dir, Retention: &CountPolicy{MaxCount: 2}}
	p, err := sink.Put(t.Context(), FileName("new", time.Now()), []byte("x"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	left, _ := ListArchives(dir)
	if len(left) != 2 {
		t.Fatalf("archives after Put = %d, want 2", len(left))
	}
	if left[0].Path != p {
		t.Errorf("newest archive = %s, want %s", left[0].Path, p)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"", 0, true},
		{"x", 0, true},
		{"5y", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
