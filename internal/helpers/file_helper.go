package helpers

import (
	"fmt"
	"os"
	"path/filepath"
)

// SaveDocument writes content to basePath/filename through a temporary file so
// readers never observe a partially written document.
func SaveDocument(basePath, filename string, content []byte) (string, error) {
	if err := os.MkdirAll(basePath, os.ModePerm); err != nil {
		return "", err
	}

	fullFilepath := filepath.Join(basePath, filepath.Base(filename))

	tmp, err := os.CreateTemp(basePath, ".tmp-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), fullFilepath); err != nil {
		return "", err
	}
	return fullFilepath, nil
}

func FileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
