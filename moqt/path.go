package moqt

import "strings"

func validatePath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return ErrInvalidPath
	}
	return nil
}

// hasPrefix reports whether path lies under prefix and returns the
// remaining suffix.
func hasPrefix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}
