package tools

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ecopia-map/city_tiler/internal/tiler"
)

const tilesetFileName = "tileset.json"

type FileFinder interface {
	GetTilesetsToMerge(opts *tiler.TilerOptions) ([]string, error)
	GetContentFiles(folder string) ([]string, error)
}

type StandardFileFinder struct{}

func NewStandardFileFinder() FileFinder {
	return &StandardFileFinder{}
}

// Returns the tileset.json files found in the direct sub folders of the merge input folder
func (f *StandardFileFinder) GetTilesetsToMerge(opts *tiler.TilerOptions) ([]string, error) {
	var tilesets = make([]string, 0)

	entries, err := os.ReadDir(opts.TilerMergeOptions.Input)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(opts.TilerMergeOptions.Input, entry.Name(), tilesetFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			tilesets = append(tilesets, candidate)
		}
	}

	sort.Strings(tilesets)
	return tilesets, nil
}

// Returns the names of the content files of a tileset folder, i.e. every regular file that is
// not a tileset document or a leftover temporary file
func (f *StandardFileFinder) GetContentFiles(folder string) ([]string, error) {
	var files = make([]string, 0)

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == tilesetFileName || strings.HasPrefix(name, ".") {
			continue
		}
		files = append(files, name)
	}

	sort.Strings(files)
	return files, nil
}
