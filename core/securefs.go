package core

// securefs.go — owner-only directory and file I/O with atomic writes.
//
// Every wallet file lives under a single data directory owned
// exclusively by the process. Directories are created 0700 and files
// 0600, enforced explicitly rather than relying on the process umask,
// per spec section 5 ("Shared-resource policy").

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// SecureFS roots all reads/writes under a base directory and enforces
// owner-only permissions on every path it touches.
type SecureFS struct {
	base string
}

func NewSecureFS(base string) (*SecureFS, error) {
	if base == "" {
		return nil, fmt.Errorf("securefs: empty base dir")
	}
	fs := &SecureFS{base: base}
	if err := fs.MkdirAll("."); err != nil {
		return nil, err
	}
	return fs, nil
}

// Path joins a relative path under the secure root.
func (f *SecureFS) Path(rel string) string {
	return filepath.Join(f.base, rel)
}

// MkdirAll creates rel (and parents) under the base with 0700,
// tightening permissions even if the directory already existed with a
// looser mode.
func (f *SecureFS) MkdirAll(rel string) error {
	p := f.Path(rel)
	if err := os.MkdirAll(p, dirPerm); err != nil {
		return fmt.Errorf("securefs: mkdir %s: %w", rel, err)
	}
	return os.Chmod(p, dirPerm)
}

// ReadFile reads rel under the base.
func (f *SecureFS) ReadFile(rel string) ([]byte, error) {
	b, err := os.ReadFile(f.Path(rel))
	if err != nil {
		return nil, fmt.Errorf("securefs: read %s: %w", rel, err)
	}
	return b, nil
}

// Exists reports whether rel exists under the base.
func (f *SecureFS) Exists(rel string) bool {
	_, err := os.Stat(f.Path(rel))
	return err == nil
}

// WriteFileAtomic writes data to rel by writing a temp file in the
// same directory, fsyncing, then renaming over the destination — the
// atomic-write discipline required for every persisted file in spec
// section 6.
func (f *SecureFS) WriteFileAtomic(rel string, data []byte) error {
	dst := f.Path(rel)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("securefs: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("securefs: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanFail := func(cause error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return cause
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return cleanFail(fmt.Errorf("securefs: chmod temp: %w", err))
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanFail(fmt.Errorf("securefs: write temp: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanFail(fmt.Errorf("securefs: fsync temp: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return cleanFail(fmt.Errorf("securefs: close temp: %w", err))
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("securefs: rename into %s: %w", rel, err)
	}
	return nil
}

// AppendLine appends a single line to rel, creating it 0600 if absent.
// Used by the audit log's JSONL stream.
func (f *SecureFS) AppendLine(rel string, line []byte) error {
	p := f.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return fmt.Errorf("securefs: mkdir %s: %w", filepath.Dir(p), err)
	}
	file, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("securefs: open %s: %w", rel, err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("securefs: append %s: %w", rel, err)
	}
	return nil
}

// OpenAppend opens rel for append, creating it 0600 if absent, leaving
// the caller in charge of closing it. Used where a component wants to
// keep the handle open across many writes (audit log).
func (f *SecureFS) OpenAppend(rel string) (*os.File, error) {
	p := f.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return nil, fmt.Errorf("securefs: mkdir %s: %w", filepath.Dir(p), err)
	}
	file, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_APPEND, filePerm)
	if err != nil {
		return nil, fmt.Errorf("securefs: open %s: %w", rel, err)
	}
	return file, nil
}
