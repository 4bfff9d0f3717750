package io

import (
	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/tiler"
)

const (
	TilesetFileName = "tileset.json"
	TilesetVersion  = "1.1"
)

// A tileset document. BoundingVolume is the global region, equal to the root region.
type Tileset struct {
	Asset          Asset          `json:"asset"`
	GeometricError float64        `json:"geometricError"`
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	Root           *Tile          `json:"root"`
}

type Asset struct {
	Version string `json:"version"`
}

// A node of the tile hierarchy. Children is always serialized, as an empty list on leaves.
type Tile struct {
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	GeometricError float64        `json:"geometricError"`
	Refine         string         `json:"refine,omitempty"`
	Content        *Content       `json:"content,omitempty"`
	Children       []*Tile        `json:"children"`
}

type Content struct {
	Uri string `json:"uri"`
}

type BoundingVolume struct {
	Region []float64 `json:"region"`
}

func NewTile(bbox *geometry.BoundingBox, geometricError float64, refine tiler.RefineMode, contentUri string) *Tile {
	tile := &Tile{
		BoundingVolume: BoundingVolume{Region: bbox.GetAsArray()},
		GeometricError: geometricError,
		Refine:         refine.String(),
		Children:       make([]*Tile, 0),
	}
	if contentUri != "" {
		tile.Content = &Content{Uri: contentUri}
	}
	return tile
}

func (t *Tile) GetBoundingBox() (*geometry.BoundingBox, error) {
	return geometry.NewBoundingBoxFromRegion(t.BoundingVolume.Region)
}

func (t *Tile) AddChild(child *Tile) {
	t.Children = append(t.Children, child)
}

// Visits the tile and all its descendants depth first, passing the chain of ancestors
func (t *Tile) Walk(visit func(tile *Tile, ancestors []*Tile) error) error {
	return t.walk(nil, visit)
}

func (t *Tile) walk(ancestors []*Tile, visit func(tile *Tile, ancestors []*Tile) error) error {
	if err := visit(t, ancestors); err != nil {
		return err
	}
	path := append(ancestors[:len(ancestors):len(ancestors)], t)
	for _, child := range t.Children {
		if err := child.walk(path, visit); err != nil {
			return err
		}
	}
	return nil
}
