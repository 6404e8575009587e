package upload

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/maneesh/dropstream/internal/models"
)

// SanitizeFileName reduces a client-declared filename to a single safe path element.
// Directory components and drive prefixes are stripped; names that are empty, "." or
// ".." or that contain NUL bytes are rejected.
func SanitizeFileName(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: contains NUL byte", models.ErrInvalidFileName)
	}

	normalized := strings.ReplaceAll(name, `\`, "/")
	if hasDriveLetter(normalized) {
		normalized = normalized[2:]
	}

	base := strings.TrimSpace(path.Base(path.Clean("/" + normalized)))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", models.ErrInvalidFileName, name)
	}
	return base, nil
}

func hasDriveLetter(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0] | 0x20
	return c >= 'a' && c <= 'z'
}

// resolveDestination joins a sanitized name onto root and checks the result stays inside it
func resolveDestination(root, name string) (string, error) {
	clean, err := SanitizeFileName(name)
	if err != nil {
		return "", err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(absRoot, clean)
	rel, err := filepath.Rel(absRoot, dest)
	if err != nil || rel != clean || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q escapes storage root", models.ErrInvalidFileName, name)
	}
	return dest, nil
}
