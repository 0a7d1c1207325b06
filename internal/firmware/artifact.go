// Package firmware inspects firmware images before they are published.
package firmware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Artifact describes a local firmware image.
type Artifact struct {
	Path   string // Local path as given on the command line
	Name   string // Base name, used as the blob name
	Size   int64  // Size in bytes from filesystem metadata
	SHA256 string // Uppercase hex SHA-256 of the full contents
}

// Inspect stats and hashes the file at path.
func Inspect(path string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to stat firmware file: %w", err)
	}
	if info.IsDir() {
		return Artifact{}, fmt.Errorf("firmware path %s is a directory", path)
	}

	digest, err := Checksum(path)
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{
		Path:   path,
		Name:   filepath.Base(path),
		Size:   info.Size(),
		SHA256: digest,
	}, nil
}

// Checksum returns the uppercase hex SHA-256 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to open firmware file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash firmware file: %w", err)
	}

	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
