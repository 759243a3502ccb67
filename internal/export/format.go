package export

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FormatVersion is the archive format written by Encode.
const FormatVersion = 1

// MaxDecompressedSize is the maximum allowed size of a decompressed archive payload (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// Header is the plain-text first line of an archive.
type Header struct {
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	Checksum         string    `json:"checksum"`
	RunID            string    `json:"run_id"`
	ObservationCount int       `json:"observation_count"`
	DecisionCount    int       `json:"decision_count"`
	Compressed       bool      `json:"compressed"`
}

// Encode writes a as a header line followed by the gzip-compressed JSON payload.
func Encode(w io.Writer, a *Archive) (*Header, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &Header{
		Version:          FormatVersion,
		CreatedAt:        a.CreatedAt,
		Checksum:         checksum(compressed.Bytes()),
		RunID:            a.Run.ID,
		ObservationCount: len(a.Observations),
		DecisionCount:    len(a.Decisions),
		Compressed:       true,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if _, err := w.Write(append(headerBytes, '\n')); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return nil, fmt.Errorf("writing compressed payload: %w", err)
	}
	return header, nil
}

// Decode reads an archive, verifies the checksum and decompresses the payload.
func Decode(r io.Reader) (*Archive, *Header, error) {
	header, compressedData, err := readVerified(r)
	if err != nil {
		return nil, nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var a Archive
	if err := json.Unmarshal(decompressed, &a); err != nil {
		return nil, nil, fmt.Errorf("parsing archive data: %w", err)
	}
	if a.Run.ID != header.RunID {
		return nil, nil, fmt.Errorf("header run %q does not match payload run %q", header.RunID, a.Run.ID)
	}
	return &a, header, nil
}

// ReadHeader reads only the header line without touching the payload.
func ReadHeader(r io.Reader) (*Header, error) {
	header, _, err := readHeader(bufio.NewReader(r))
	return header, err
}

// Verify checks the payload checksum without decompressing it.
func Verify(r io.Reader) (*Header, error) {
	header, _, err := readVerified(r)
	return header, err
}

func readHeader(reader *bufio.Reader) (*Header, *bufio.Reader, error) {
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, nil, fmt.Errorf("unsupported archive version %d", header.Version)
	}
	return &header, reader, nil
}

func readVerified(r io.Reader) (*Header, []byte, error) {
	header, reader, err := readHeader(bufio.NewReader(r))
	if err != nil {
		return nil, nil, err
	}
	compressedData, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressedData); actual != header.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, actual)
	}
	return header, compressedData, nil
}

func checksum(b []byte) string {
	hash := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// WriteFile encodes a to path, creating parent directories.
func WriteFile(path string, a *Archive) (*Header, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	header, err := Encode(f, a)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing file: %w", cerr)
	}
	return header, err
}

// ReadFile decodes the archive at path.
func ReadFile(path string) (*Archive, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// VerifyFile checks the integrity of the archive at path.
func VerifyFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}
