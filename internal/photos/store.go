// Package photos provides the content-addressed contact photo cache.
package photos

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store keeps photos by their SHA-256 hash. Identical photos are stored
// once. Files live at baseDir/{hash[0:2]}/{hash[2:4]}/{hash}.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Hash returns the content hash of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidHash reports whether s is a well-formed content hash.
func ValidHash(s string) bool {
	return hashPattern.MatchString(s)
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}

// Put stores data and returns its content hash.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := Hash(data)
	target := s.path(hash)
	if _, err := os.Stat(target); err == nil {
		return hash, nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file first so a crash never leaves a truncated photo
	// under its hash.
	tmp, err := os.CreateTemp(dir, hash+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to store photo: %w", err)
	}
	return hash, nil
}

// Get returns the photo with hash. The content is verified against the hash.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidHash(hash) {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid photo hash %q", hash)
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "photo %s not found", hash)
		}
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	if got := Hash(data); got != hash {
		return nil, apperrors.Newf(apperrors.ErrData, "photo hash mismatch: expected %s, got %s", hash, got)
	}
	return data, nil
}

// Exists reports whether a photo with hash is stored.
func (s *Store) Exists(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Delete removes a photo. Deleting a missing photo is not an error.
func (s *Store) Delete(hash string) error {
	if !ValidHash(hash) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid photo hash %q", hash)
	}
	p := s.path(hash)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	// Drop the fan-out directories once empty.
	dir := filepath.Dir(p)
	_ = os.Remove(dir)
	_ = os.Remove(filepath.Dir(dir))
	return nil
}

// List returns every stored hash in sorted order.
func (s *Store) List() ([]string, error) {
	var hashes []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.baseDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if name := d.Name(); ValidHash(name) {
			hashes = append(hashes, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk photo store: %w", err)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Verify rehashes every stored photo and returns the corrupted ones.
func (s *Store) Verify(ctx context.Context) ([]string, error) {
	hashes, err := s.List()
	if err != nil {
		return nil, err
	}
	var corrupted []string
	for _, h := range hashes {
		if _, err := s.Get(ctx, h); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			corrupted = append(corrupted, h)
		}
	}
	return corrupted, nil
}

// Prune deletes every photo not in keep and returns how many were removed.
func (s *Store) Prune(keep map[string]bool) (int, error) {
	hashes, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, h := range hashes {
		if keep[h] {
			continue
		}
		if err := s.Delete(h); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
