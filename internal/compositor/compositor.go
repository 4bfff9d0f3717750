package compositor

import (
	"context"

	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/geometry"
)

const (
	AlphaModeOpaque = "OPAQUE"
	AlphaModeBlend  = "BLEND"
)

// Input of one node composition. Items must not be modified by the compositor.
type Request struct {
	Level        int
	Items        []data.GridItem
	MinVolume    *float64 // nil keeps every item
	ResizeFactor float64
	AlphaEnabled bool
}

// A merged renderable asset and the region covering the objects routed to its node
type Result struct {
	Asset       []byte
	Extension   string
	BoundingBox *geometry.BoundingBox
	Kept        int
}

// Merges the objects of a node into a single asset. A nil result with a nil error means that
// no object passed the volume filter, which is not a failure.
type Compositor interface {
	Compose(ctx context.Context, req *Request) (*Result, error)
	Close() error
}

// Returns the alpha mode applied to textured materials
func AlphaMode(alphaEnabled bool) string {
	if alphaEnabled {
		return AlphaModeOpaque
	}
	return AlphaModeBlend
}
