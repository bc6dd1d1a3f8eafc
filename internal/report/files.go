package report

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	return nil
}
