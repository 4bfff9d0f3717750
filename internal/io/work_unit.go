package io

import "github.com/ecopia-map/city_tiler/internal/data"

// Contains everything needed to build the tile subtree of one top level grid cell
type WorkUnit struct {
	CellIndex    int
	Items        []data.GridItem
	OutputDir    string
	AlphaEnabled bool
}
