package io

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ecopia-map/city_tiler/tools"
)

// Writes the tileset.json file of the given folder. The file is replaced atomically so that an
// interrupted run always leaves the previous complete checkpoint in place.
func WriteTilesetJsonFile(folder string, tileset *Tileset) error {
	jsonData, err := json.MarshalIndent(tileset, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal tileset: %w", err)
	}

	file := filepath.Join(folder, TilesetFileName)
	if err := tools.WriteFileAtomic(file, jsonData, 0666); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

// Reads a tileset.json file
func ReadTilesetJsonFile(file string) (*Tileset, error) {
	jsonData, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	tileset := &Tileset{}
	if err := json.Unmarshal(jsonData, tileset); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	if tileset.Root == nil {
		return nil, fmt.Errorf("%s has no root tile", file)
	}
	return tileset, nil
}
