package io

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Writes per node binary content files into a folder
type AssetWriter interface {
	WriteAsset(level int, extension string, content []byte) (string, error)
	// Removes every asset written so far
	Rollback() error
}

type StandardAssetWriter struct {
	folder  string
	written []string
}

func NewStandardAssetWriter(folder string) *StandardAssetWriter {
	return &StandardAssetWriter{folder: folder}
}

// Stores the content as <uuid>_lod<level>.<extension> and returns the uri relative to the folder
func (w *StandardAssetWriter) WriteAsset(level int, extension string, content []byte) (string, error) {
	name := fmt.Sprintf("%s_lod%d.%s", uuid.NewString(), level, strings.TrimPrefix(extension, "."))
	if err := os.WriteFile(filepath.Join(w.folder, name), content, 0666); err != nil {
		return "", fmt.Errorf("write asset %s: %w", name, err)
	}
	w.written = append(w.written, name)
	return name, nil
}

func (w *StandardAssetWriter) Rollback() error {
	var errs []error
	for _, name := range w.written {
		if err := os.Remove(filepath.Join(w.folder, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	w.written = nil
	return errors.Join(errs...)
}
