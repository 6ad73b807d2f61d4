// Package archive stages uploaded zip archives and packs result trees.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafeEntry is returned for entries that would land outside the target directory.
var ErrUnsafeEntry = errors.New("archive entry escapes target directory")

// Extract persists data to archivePath, recreates targetDir and unpacks every
// entry into it. It returns the number of files written.
func Extract(data []byte, archivePath, targetDir string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create staging dir: %w", err)
	}
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to stage archive at %s: %w", archivePath, err)
	}

	if err := os.RemoveAll(targetDir); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", targetDir, err)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", targetDir, err)
	}

	reader, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		reader.Close()
		return 0, fmt.Errorf("%w: %v", ErrUnsafeEntry, err)
	}
	if err != nil {
		return 0, fmt.Errorf("not a valid zip archive: %w", err)
	}
	defer reader.Close()

	written := 0
	for _, entry := range reader.File {
		dest, err := entryPath(targetDir, entry.Name)
		if err != nil {
			return written, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return written, fmt.Errorf("failed to create %s: %w", dest, err)
			}
			continue
		}
		if err := extractFile(entry, dest); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func entryPath(targetDir, name string) (string, error) {
	dest := filepath.Join(targetDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(targetDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	return dest, nil
}

func extractFile(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return out.Close()
}

// Compress packs sourceDir into an in-memory deflate zip. Entry names are
// relative to sourceDir and use forward slashes.
func Compress(sourceDir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		return addFile(zw, path, name)
	})
	if err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("failed to compress %s: %w", sourceDir, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
