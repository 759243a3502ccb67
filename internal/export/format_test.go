package export

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/poseidon/internal/store"
)

func sampleArchive() *Archive {
	v := 120.5
	f := 3.0
	return &Archive{
		Version:   FormatVersion,
		CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Run:       store.Run{ID: "run-1", Seed: 7, Years: 1, Fishers: 4, Status: store.RunFinished, StartedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		Observations: []ObservationRow{
			{Series: "daily", Step: 1, Column: "Biomass", Value: &v},
			{Series: "daily", Step: 1, Column: "Average Cash", Value: nil},
		},
		Decisions: []DecisionRow{
			{Step: 1, Agent: "fisher-0", Attribute: "destination", Status: "exploring", Value: "2", Fitness: &f},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	header, err := Encode(&buf, sampleArchive())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if header.RunID != "run-1" || header.ObservationCount != 2 || header.DecisionCount != 1 || !header.Compressed {
		t.Errorf("header = %+v", header)
	}
	if !strings.HasPrefix(header.Checksum, "sha256:") {
		t.Errorf("checksum = %q, want sha256: prefix", header.Checksum)
	}

	got, gotHeader, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if gotHeader.Checksum != header.Checksum {
		t.Errorf("decoded checksum = %s, want %s", gotHeader.Checksum, header.Checksum)
	}
	if got.Run.ID != "run-1" || got.Run.Seed != 7 {
		t.Errorf("run = %+v", got.Run)
	}
	if len(got.Observations) != 2 || *got.Observations[0].Value != 120.5 || got.Observations[1].Value != nil {
		t.Errorf("observations = %+v", got.Observations)
	}
	if len(got.Decisions) != 1 || got.Decisions[0].Agent != "fisher-0" {
		t.Errorf("decisions = %+v", got.Decisions)
	}
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Encode(&buf, sampleArchive()); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	data[len(data)-1] ^= 0xff

	if _, _, err := Decode(bytes.NewReader(data)); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("Decode() error = %v, want checksum mismatch", err)
	}
	if _, err := Verify(bytes.NewReader(data)); err == nil {
		t.Error("Verify() error = nil, want checksum mismatch")
	}
}

func TestReadHeader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"version":1,"run_id":"x","checksum":"sha256:00"}` + "\n", false},
		{"wrong version", `{"version":9}` + "\n", true},
		{"not json", "hello\n", true},
		{"no newline", `{"version":1}`, true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ReadHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "archive.json.gz")
	if _, err := WriteFile(path, sampleArchive()); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	if _, err := VerifyFile(path); err != nil {
		t.Errorf("VerifyFile() error = %v", err)
	}
	a, _, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if a.Run.ID != "run-1" {
		t.Errorf("Run.ID = %s, want run-1", a.Run.ID)
	}
}

func TestFinitePtr(t *testing.T) {
	if finitePtr(math.NaN()) != nil || finitePtr(math.Inf(1)) != nil {
		t.Error("non-finite values should map to nil")
	}
	if p := finitePtr(2); p == nil || *p != 2 {
		t.Errorf("finitePtr(2) = %v", p)
	}
	if !math.IsNaN(fromPtr(nil)) {
		t.Error("fromPtr(nil) should be NaN")
	}
}
