// Package pathutil provides lexical absolute-path normalization.
//
// Normalize never touches the filesystem: it does not resolve symbolic
// links, does not canonicalize case, and does not require the path to
// exist. The result is used both as a database key and for display, so it
// must be a pure, deterministic function of its input and the process
// working directory.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrEmptyPath is returned by Normalize for an empty input string.
var ErrEmptyPath = errors.New("pathutil: empty path")

// Normalize resolves path to an absolute, lexically clean form.
//
// Relative paths are joined against the process working directory at call
// time. "." and ".." components are resolved syntactically by
// [filepath.Clean]; no symlink resolution occurs and the path need not
// exist.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("pathutil: normalize %q: %w", path, err)
	}

	return filepath.Clean(filepath.Join(wd, path)), nil
}

// NormalizeAll normalizes every element of paths, stopping at the first
// error. The offending input is named in the returned error.
func NormalizeAll(paths []string) ([]string, error) {
	out := make([]string, len(paths))

	for i, p := range paths {
		norm, err := Normalize(p)
		if err != nil {
			return nil, fmt.Errorf("pathutil: normalize root %q: %w", p, err)
		}

		out[i] = norm
	}

	return out, nil
}

// UnderRoot reports whether path is equal to root or nested under it.
// "Under" means path == root or path == root + separator + anything; this
// is a byte-exact comparison on already-normalized paths, never a substring
// match (e.g. "/home/ab" is not under "/home/a").
func UnderRoot(path, root string) bool {
	if path == root {
		return true
	}

	if len(path) <= len(root) || path[:len(root)] != root {
		return false
	}

	sep := path[len(root)]

	return sep == '/' || sep == '\\'
}
