// Package pathutil normalises source paths the way a debug adapter
// needs them: tilde-expanded and absolute, so paths reported by the
// adapter (stack frames, breakpoint verification) and paths supplied by
// the caller (launch config, breakpoint requests) compare equal byte
// for byte.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Normalise expands a bare "~" or a leading "~/" to the current user's
// home directory and resolves the result to an absolute, cleaned path.
// Any other path (including "~user/...") is resolved relative to the
// process's working directory.
func Normalise(path string) (string, error) {
	expanded, err := expandTilde(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func expandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// SameFile reports whether two paths refer to the same file once both
// are normalised, so a relative form and an absolute form of the same
// path compare equal. The comparison is case-sensitive; symlinks are
// not resolved.
func SameFile(a, b string) bool {
	na, errA := Normalise(a)
	nb, errB := Normalise(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return na == nb
}
