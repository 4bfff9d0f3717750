package io

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/tiler"
)

func sampleTileset() *Tileset {
	leaf := NewTile(geometry.NewBoundingBox(0, 1, 0, 1, 0, 5), 0, tiler.RefineModeReplace, "a_lod0.cbdl")
	parent := NewTile(geometry.NewBoundingBox(0, 2, 0, 2, 0, 10), 20, tiler.RefineModeReplace, "a_lod2.cbdl")
	parent.AddChild(leaf)
	root := NewTile(geometry.NewBoundingBox(0, 2, 0, 2, 0, 10), 50, tiler.RefineModeAdd, "")
	root.AddChild(parent)
	return &Tileset{
		Asset:          Asset{Version: TilesetVersion},
		GeometricError: 50,
		BoundingVolume: root.BoundingVolume,
		Root:           root,
	}
}

func TestWriteReadTileset(t *testing.T) {
	dir := t.TempDir()
	tileset := sampleTileset()
	if err := WriteTilesetJsonFile(dir, tileset); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, TilesetFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "\n    \"asset\"") {
		t.Error("tileset should be indented with four spaces")
	}
	if strings.Contains(string(raw), `"content": null`) {
		t.Error("tiles without content should omit the content field")
	}

	back, err := ReadTilesetJsonFile(filepath.Join(dir, TilesetFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, tileset) {
		t.Errorf("have %+v, want %+v", back, tileset)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("only tileset.json should remain after the atomic write, have %d entries", len(entries))
	}
}

func TestWalk(t *testing.T) {
	var depths []int
	err := sampleTileset().Root.Walk(func(tile *Tile, ancestors []*Tile) error {
		depths = append(depths, len(ancestors))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(depths, []int{0, 1, 2}) {
		t.Errorf("have %v", depths)
	}
}

func TestAssetWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewStandardAssetWriter(dir)
	uri, err := w.WriteAsset(2, ".glb", []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(uri, "_lod2.glb") {
		t.Errorf("unexpected uri %s", uri)
	}
	content, err := os.ReadFile(filepath.Join(dir, uri))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "payload" {
		t.Errorf("have %q", content)
	}

	if _, err := w.WriteAsset(0, "glb", []byte("leaf")); err != nil {
		t.Fatal(err)
	}
	if err := w.Rollback(); err != nil {
		t.Fatal(err)
	}
	files, _ := os.ReadDir(dir)
	if len(files) != 0 {
		t.Errorf("have %d files after rollback, want none", len(files))
	}
}
