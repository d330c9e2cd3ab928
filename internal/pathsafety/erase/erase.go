// Package erase implements file removal with an optional secure-overwrite
// pass, selected by the SECURE_ERASE environment variable (see
// internal/config).
package erase

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

const passes = 3

// Unlink removes path. When secure is true it first overwrites the file
// with three passes of random data followed by one pass of zeroes, fsyncing
// after each pass, before unlinking. When secure is false it performs a
// plain unlink. Removing a file that does not exist is not an error.
func Unlink(path string, secure bool) error {
	if !secure {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("erase: remove %s: %w", path, err)
		}
		return nil
	}

	if err := overwrite(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("erase: remove %s: %w", path, err)
	}
	return nil
}

func overwrite(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("erase: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	for i := 0; i < passes; i++ {
		if err := writePass(f, size, randomReader{}); err != nil {
			return fmt.Errorf("erase: overwrite pass %d on %s: %w", i+1, path, err)
		}
	}
	if err := writePass(f, size, zeroReader{}); err != nil {
		return fmt.Errorf("erase: zero pass on %s: %w", path, err)
	}
	return nil
}

func writePass(f *os.File, size int64, src io.Reader) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(f, src, size); err != nil {
		return err
	}
	return f.Sync()
}

type randomReader struct{}

func (randomReader) Read(p []byte) (int, error) { return rand.Read(p) }

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
