package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxNameLen = 120

// WriteDocument writes data to dir under the sanitized form of name and
// returns the path written. The extension of name is kept as given.
func WriteDocument(dir, name string, data []byte) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := SanitizeName(strings.TrimSuffix(name, ext), maxNameLen)
	if base == "" {
		base = "chapters"
	}

	path := filepath.Join(dir, base+ext)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return path, nil
}
