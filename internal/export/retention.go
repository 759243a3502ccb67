package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ArchiveInfo holds metadata for retention decisions.
type ArchiveInfo struct {
	Path      string
	Size      int64
	CreatedAt time.Time
}

// RetentionPolicy decides which archives to keep.
type RetentionPolicy interface {
	Apply(archives []ArchiveInfo) (keep []ArchiveInfo)
}

// CountPolicy keeps the N most recent archives.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount archives (assumed sorted newest-first).
func (p *CountPolicy) Apply(archives []ArchiveInfo) []ArchiveInfo {
	if len(archives) <= p.MaxCount {
		return archives
	}
	return archives[:p.MaxCount]
}

// AgePolicy keeps archives newer than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
	now    func() time.Time
}

// Apply keeps archives whose CreatedAt is within MaxAge of now.
func (p *AgePolicy) Apply(archives []ArchiveInfo) []ArchiveInfo {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	cutoff := now().Add(-p.MaxAge)
	var keep []ArchiveInfo
	for _, a := range archives {
		if a.CreatedAt.After(cutoff) {
			keep = append(keep, a)
		}
	}
	return keep
}

// CompositePolicy keeps an archive if every sub-policy wants it.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the intersection of what the sub-policies keep.
func (p *CompositePolicy) Apply(archives []ArchiveInfo) []ArchiveInfo {
	votes := make(map[string]int)
	for _, policy := range p.Policies {
		for _, a := range policy.Apply(archives) {
			votes[a.Path]++
		}
	}

	var result []ArchiveInfo
	for _, a := range archives {
		if votes[a.Path] == len(p.Policies) {
			result = append(result, a)
		}
	}
	return result
}

// ListArchives scans dir for run archives and returns them newest-first.
func ListArchives(dir string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading export directory: %w", err)
	}

	var archives []ArchiveInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Path:      filepath.Join(dir, name),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		if !archives[i].CreatedAt.Equal(archives[j].CreatedAt) {
			return archives[i].CreatedAt.After(archives[j].CreatedAt)
		}
		return archives[i].Path > archives[j].Path
	})
	return archives, nil
}

// ApplyRetention deletes archives in dir that policy does not keep.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	archives, err := ListArchives(dir)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]bool)
	for _, a := range policy.Apply(archives) {
		keepSet[a.Path] = true
	}

	for _, a := range archives {
		if keepSet[a.Path] {
			continue
		}
		if err := os.Remove(a.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(a.Path), err)
		}
		deleted = append(deleted, a.Path)
	}
	return deleted, nil
}

// ParseDuration parses durations like "30d", "2w" or "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}
