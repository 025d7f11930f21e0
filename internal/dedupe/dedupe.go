package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"

	"github.com/framelight/api/internal/upload"
)

// Detector screens a dropped file set for likely duplicates before a batch is
// created. Implementations return the indices of files that duplicate an
// earlier file in the same set.
type Detector interface {
	FindDuplicates(files []upload.File) []int
}

// ContentHashDetector flags files whose content digests collide. Detection is
// best-effort: unreadable files are never flagged, so a read error here cannot
// block an upload that may still succeed.
type ContentHashDetector struct{}

func NewContentHashDetector() *ContentHashDetector {
	return &ContentHashDetector{}
}

func (d *ContentHashDetector) FindDuplicates(files []upload.File) []int {
	seen := make(map[string]int, len(files))
	var dupes []int

	for i, f := range files {
		digest, err := hashFile(f)
		if err != nil {
			log.Printf("Duplicate check skipped for %q: %v", f.Name, err)
			continue
		}
		if _, ok := seen[digest]; ok {
			dupes = append(dupes, i)
			continue
		}
		seen[digest] = i
	}
	return dupes
}

func hashFile(f upload.File) (string, error) {
	r, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
