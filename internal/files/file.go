// Package files writes generated source files in place of older versions.
package files

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Replace makes data the content of dst. The data goes to a temporary file in
// the same directory which is then renamed over dst, so a reader sees either
// the old file or the new one. When dst already holds data it is not touched
// and Replace reports false.
func Replace(dst string, data []byte) (bool, error) {
	old, err := os.ReadFile(dst)
	switch {
	case err == nil && bytes.Equal(old, data):
		return false, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	if err := fill(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("write %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return false, err
	}
	return true, nil
}

func fill(f *os.File, data []byte) error {
	_, err := f.Write(data)
	if err == nil {
		err = f.Chmod(0o644)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
