package asset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Write stores each file at dir/dest/<file.Rel()> and returns the written
// paths relative to dir, slash-separated. Files whose destination already
// holds identical bytes are left untouched.
func Write(dir, dest string, files []*File) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, f := range files {
		rel := filepath.Join(filepath.FromSlash(dest), filepath.FromSlash(f.Rel()))
		target := filepath.Join(dir, rel)

		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, f.Contents) {
			out = append(out, filepath.ToSlash(rel))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return out, fmt.Errorf("create %s: %w", filepath.Dir(rel), err)
		}
		if err := writeFileAtomic(target, f.Contents, 0o644); err != nil {
			return out, fmt.Errorf("write %s: %w", filepath.ToSlash(rel), err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it into
// place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
