package data

import "github.com/ecopia-map/city_tiler/internal/geometry"

// Contains the footprint and height extent of a city object together with its identity.
// X/Y are longitude/latitude in radians, heights in meters. Items are immutable once loaded:
// they are copied by value into job payloads and the Attributes map is only ever read.
type GridItem struct {
	MinX        float64
	MinY        float64
	MaxX        float64
	MaxY        float64
	MinHeight   float64
	MaxHeight   float64
	Name        string                 // key into the geometry store
	IsInstanced bool                   // true if the geometry is a shared template plus a transform
	Attributes  map[string]interface{} // scalar attribute values
	Type        string                 // category label, e.g. Building
}

// Returns the planar centroid of the footprint, used to assign the item to grid cells
func (i *GridItem) Centroid() (float64, float64) {
	return (i.MinX + i.MaxX) / 2, (i.MinY + i.MaxY) / 2
}

func (i *GridItem) GetBoundingBox() *geometry.BoundingBox {
	return geometry.NewBoundingBox(i.MinX, i.MaxX, i.MinY, i.MaxY, i.MinHeight, i.MaxHeight)
}

// Returns the union of the boxes of all given items, nil if there are none
func MergeItemBoundingBoxes(items []GridItem) *geometry.BoundingBox {
	boxes := make([]*geometry.BoundingBox, len(items))
	for i := range items {
		boxes[i] = items[i].GetBoundingBox()
	}
	return geometry.MergeBoundingBoxList(boxes)
}
