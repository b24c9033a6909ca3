package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	namePrefix = "Result_"
	nameSuffix = ".png"
)

// NewArtifactName returns a unique result file name, Result_<uuid>.png.
func NewArtifactName() string {
	return namePrefix + uuid.NewString() + nameSuffix
}

// ExpandPath resolves a leading ~ to the home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// WriteArtifact stores data under dir, creating dir when missing, and returns the full path.
func WriteArtifact(dir, name string, data []byte) (string, error) {
	dir, err := ExpandPath(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir %s, error: %+v", dir, err)
	}
	fullPath := filepath.Join(dir, name)
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("write artifact %s, error: %+v", fullPath, err)
	}
	return fullPath, nil
}
