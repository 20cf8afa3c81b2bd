package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// joinKey returns the full object key of a key relative to root.
func joinKey(root, key string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return key
	}
	return root + "/" + key
}

// relativeKey strips root from a full object key.
func relativeKey(root, key string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, root), "/")
}

// inListing reports whether a relative key belongs to a listing of prefix.
// Non-recursive listings only contain keys directly under prefix.
func inListing(key, prefix string, recursive bool) bool {
	if !strings.HasPrefix(key, prefix) || strings.HasSuffix(key, "/") {
		return false
	}
	return recursive || !strings.Contains(key[len(prefix):], "/")
}

// writeFile streams r into dest, creating the parent directory.
func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}

	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
