// Package artifacts loads content sets, prepares images for delivery, and
// serves published artifacts to pull-based device clients.
package artifacts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadLibrary returns the absolute paths of all supported artifacts in dir,
// naturally sorted so img2 comes before img10. The returned slice is the
// immutable content set for one rotation configuration.
func LoadLibrary(dir string, extensions []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("images directory does not exist: %s", dir)
	}

	supported := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		supported[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read images directory %s: %w", dir, err)
	}

	var items []string
	for _, entry := range entries {
		if entry.IsDir() || !supported[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		items = append(items, abs)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no supported images found in: %s", dir)
	}

	NaturalSort(items)
	slog.Info("artifacts: loaded library", "dir", dir, "count", len(items))
	return items, nil
}

// DirectoryInfo describes one browsable content directory.
type DirectoryInfo struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	ImageCount int    `json:"image_count"`
}

// ListDirectories returns the base directory and its immediate
// subdirectories that contain at least one supported image. The base
// directory is always listed when it exists, even if empty, so clients have
// a starting point.
func ListDirectories(baseDir string, extensions []string) []DirectoryInfo {
	supported := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		supported[strings.ToLower(ext)] = true
	}

	var dirs []DirectoryInfo
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		abs = baseDir
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		dirs = append(dirs, DirectoryInfo{
			Path:       abs,
			Name:       filepath.Base(abs),
			ImageCount: countImages(abs, supported),
		})
		entries, err := os.ReadDir(abs)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
					continue
				}
				sub := filepath.Join(abs, entry.Name())
				if n := countImages(sub, supported); n > 0 {
					dirs = append(dirs, DirectoryInfo{Path: sub, Name: entry.Name(), ImageCount: n})
				}
			}
		}
	}
	return dirs
}

func countImages(dir string, supported map[string]bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && supported[strings.ToLower(filepath.Ext(entry.Name()))] {
			n++
		}
	}
	return n
}

// NaturalSort orders paths by their base name with numeric awareness, so
// "img2" sorts before "img10". Comparison is case-insensitive.
func NaturalSort(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return naturalLess(stem(paths[i]), stem(paths[j]))
	})
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// naturalLess compares alternating runs of digits and non-digits; digit runs
// compare by numeric value.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aChunk, aNum, aRest := chunk(a)
		bChunk, bNum, bRest := chunk(b)

		if aNum && bNum {
			// Strip leading zeros so "002" == "2" for ordering, then compare
			// by length-then-value which matches numeric order.
			at := strings.TrimLeft(aChunk, "0")
			bt := strings.TrimLeft(bChunk, "0")
			if len(at) != len(bt) {
				return len(at) < len(bt)
			}
			if at != bt {
				return at < bt
			}
		} else if aChunk != bChunk {
			return aChunk < bChunk
		}
		a, b = aRest, bRest
	}
	return len(a) < len(b)
}

// chunk splits the leading run of digits or non-digits from s.
func chunk(s string) (head string, numeric bool, rest string) {
	if s == "" {
		return "", false, ""
	}
	numeric = s[0] >= '0' && s[0] <= '9'
	for i := 0; i < len(s); i++ {
		isDigit := s[i] >= '0' && s[i] <= '9'
		if isDigit != numeric {
			return s[:i], numeric, s[i:]
		}
	}
	return s, numeric, ""
}
