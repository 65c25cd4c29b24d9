// Package util holds small filesystem helpers shared by the persistence
// layers.
package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to savePath through a temporary file in the
// same directory followed by a rename, creating parent directories as
// needed. A crash mid write leaves the previous file intact.
func WriteFileAtomic(savePath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(savePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(savePath)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", savePath, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod %s: %w", savePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", savePath, err)
	}
	if err := os.Rename(tmp.Name(), savePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", savePath, err)
	}
	return nil
}
