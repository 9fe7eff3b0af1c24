package utils

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/crypto/blake2b"
)

// MoveFile moves src to dst, creating dst's directory if needed. Within one volume it
// is a single rename. Across volumes it copies, syncs, verifies both files hash the
// same and only then removes src; a crash mid-way can leave both copies but never
// loses the file.
func MoveFile(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("failed to stat source %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory for %s: %w", dst, err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}

	log.Printf("relocate: %s and %s are on different volumes, using verified copy", src, dst)
	if err := copyVerified(src, dst); err != nil {
		if rmErr := os.Remove(dst); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("relocate: WARNING failed to remove partial copy %s: %v", dst, rmErr)
		}
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("copied %s to %s but failed to remove source: %w", src, dst, err)
	}
	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// copyVerified copies src to dst, fsyncs it and compares BLAKE2b digests of both files.
func copyVerified(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	srcHash, err := blake2b.New256(nil)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(io.MultiWriter(out, srcHash), in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	dstSum, err := fileDigest(dst)
	if err != nil {
		return err
	}
	if !bytes.Equal(srcHash.Sum(nil), dstSum) {
		return fmt.Errorf("digest mismatch after copying %s", src)
	}
	return nil
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
