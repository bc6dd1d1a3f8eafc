// Package dataset indexes fingerprint images, partitions them into
// train/validation/test views and feeds batches to the training loop.
package dataset

import (
	"os"
	"path/filepath"
	"strings"

	fpimage "finger-classifier/internal/image"

	"github.com/pkg/errors"
)

// FingerNames maps label i to its finger name.
var FingerNames = [...]string{"thumb", "index", "middle", "ring", "little"}

// NumClasses is the number of finger labels.
const NumClasses = len(FingerNames)

// ErrNoSamples is returned when indexing finds no labelled image.
var ErrNoSamples = errors.New("no labelled fingerprint images found")

// Sample is one labelled image file.
type Sample struct {
	Path  string
	Label int
}

// LabelFor returns the label of the finger name occurring earliest in name,
// compared case-insensitively.
func LabelFor(name string) (int, bool) {
	lower := strings.ToLower(name)
	best, bestPos := -1, len(lower)+1
	for label, finger := range FingerNames {
		if pos := strings.Index(lower, finger); pos >= 0 && pos < bestPos {
			best, bestPos = label, pos
		}
	}
	return best, best >= 0
}

// Index lists every supported image directly inside each root whose base
// name contains a finger name. Missing roots are skipped; files are visited
// in sorted order.
func Index(roots []string) ([]Sample, error) {
	var samples []Sample
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read %s", root)
		}
		for _, e := range entries {
			if e.IsDir() || !fpimage.IsSupported(e.Name()) {
				continue
			}
			label, ok := LabelFor(e.Name())
			if !ok {
				continue
			}
			samples = append(samples, Sample{Path: filepath.Join(root, e.Name()), Label: label})
		}
	}
	if len(samples) == 0 {
		return nil, errors.Wrapf(ErrNoSamples, "roots %v", roots)
	}
	return samples, nil
}

// Counts returns the number of samples per label.
func Counts(samples []Sample) [NumClasses]int {
	var c [NumClasses]int
	for _, s := range samples {
		c[s.Label]++
	}
	return c
}
