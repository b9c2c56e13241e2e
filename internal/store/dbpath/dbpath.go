// Package dbpath implements the database-path resolution rule from
// spec.md §6: a bare name (no path separators) is resolved under
// "deldupes" in the user configuration directory reported by
// os.UserConfigDir; anything else is taken as a literal filesystem path.
// A separate per-platform data directory is not used.
package dbpath

import (
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "deldupes"

// Resolve turns the CLI --db argument into a concrete directory path.
func Resolve(arg string) (string, error) {
	if strings.ContainsAny(arg, "/\\") {
		return arg, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(base, appDirName, arg), nil
}
