package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

// Tolerance used when comparing regions read back from serialized tilesets
const ContainmentEpsilon = 1e-9

// Contains the boundaries of a cartographic region: X and Y are longitude and latitude in radians,
// Z is the height above the ellipsoid in meters
type BoundingBox struct {
	Xmin float64
	Xmax float64
	Ymin float64
	Ymax float64
	Zmin float64
	Zmax float64
	Xmid float64
	Ymid float64
	Zmid float64
}

// Constructor to properly initialize a boundingBox struct computing the mids
func NewBoundingBox(Xmin, Xmax, Ymin, Ymax, Zmin, Zmax float64) *BoundingBox {
	return &BoundingBox{
		Xmin: Xmin,
		Xmax: Xmax,
		Ymin: Ymin,
		Ymax: Ymax,
		Zmin: Zmin,
		Zmax: Zmax,
		Xmid: (Xmin + Xmax) / 2,
		Ymid: (Ymin + Ymax) / 2,
		Zmid: (Zmin + Zmax) / 2,
	}
}

// Builds a bounding box from a 3D Tiles region array [west, south, east, north, minHeight, maxHeight]
func NewBoundingBoxFromRegion(region []float64) (*BoundingBox, error) {
	if len(region) != 6 {
		return nil, fmt.Errorf("region must contain 6 numbers, got %d", len(region))
	}
	return NewBoundingBox(region[0], region[2], region[1], region[3], region[4], region[5]), nil
}

// Returns the region array in 3D Tiles order [west, south, east, north, minHeight, maxHeight]
func (b *BoundingBox) GetAsArray() []float64 {
	return []float64{b.Xmin, b.Ymin, b.Xmax, b.Ymax, b.Zmin, b.Zmax}
}

func (b *BoundingBox) Width() float64 {
	return b.Xmax - b.Xmin
}

func (b *BoundingBox) Height() float64 {
	return b.Ymax - b.Ymin
}

// Returns the planar footprint of the box
func (b *BoundingBox) Bounds2D() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: b.Xmin, Y: b.Ymin},
		Max: geom.Point{X: b.Xmax, Y: b.Ymax},
	}
}

// Returns true if other lies within b, allowing eps of slack on every side
func (b *BoundingBox) Contains(other *BoundingBox, eps float64) bool {
	return other.Xmin >= b.Xmin-eps && other.Xmax <= b.Xmax+eps &&
		other.Ymin >= b.Ymin-eps && other.Ymax <= b.Ymax+eps &&
		other.Zmin >= b.Zmin-eps && other.Zmax <= b.Zmax+eps
}

func (b *BoundingBox) Equals(other *BoundingBox, eps float64) bool {
	return b.Contains(other, eps) && other.Contains(b, eps)
}

// Returns the union of b and other as a new box
func (b *BoundingBox) Merge(other *BoundingBox) *BoundingBox {
	return NewBoundingBox(
		math.Min(b.Xmin, other.Xmin),
		math.Max(b.Xmax, other.Xmax),
		math.Min(b.Ymin, other.Ymin),
		math.Max(b.Ymax, other.Ymax),
		math.Min(b.Zmin, other.Zmin),
		math.Max(b.Zmax, other.Zmax),
	)
}

// Merges a list of boxes. Returns nil if the list is empty
func MergeBoundingBoxList(bboxList []*BoundingBox) *BoundingBox {
	var merged *BoundingBox
	for _, bbox := range bboxList {
		if bbox == nil {
			continue
		}
		if merged == nil {
			merged = NewBoundingBox(bbox.Xmin, bbox.Xmax, bbox.Ymin, bbox.Ymax, bbox.Zmin, bbox.Zmax)
			continue
		}
		merged = merged.Merge(bbox)
	}
	return merged
}

func (b *BoundingBox) Validate() error {
	for _, v := range b.GetAsArray() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("bounding box contains non finite values")
		}
	}
	if b.Xmin > b.Xmax || b.Ymin > b.Ymax || b.Zmin > b.Zmax {
		return fmt.Errorf("bounding box is inverted: %v", b.GetAsArray())
	}
	return nil
}
