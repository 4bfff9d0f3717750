package compositor

import (
	"fmt"

	"github.com/ecopia-map/city_tiler/internal/converters"
	"github.com/ecopia-map/city_tiler/internal/data"
)

// Drops the objects whose ECEF bounding volume does not exceed a threshold
type VolumeFilter struct {
	converter converters.CoordinateConverter
}

func NewVolumeFilter(converter converters.CoordinateConverter) *VolumeFilter {
	return &VolumeFilter{converter: converter}
}

// Returns the items whose volume is strictly greater than minVolume, in input order.
// A nil or zero threshold keeps every item. The input slice is never modified.
func (f *VolumeFilter) Filter(items []data.GridItem, minVolume *float64) ([]data.GridItem, error) {
	if minVolume == nil || *minVolume == 0 {
		return append([]data.GridItem(nil), items...), nil
	}

	kept := make([]data.GridItem, 0, len(items))
	for i := range items {
		volume, err := converters.ComputeBoundingBoxVolume(f.converter, items[i].GetBoundingBox())
		if err != nil {
			return nil, fmt.Errorf("volume of %s: %w", items[i].Name, err)
		}
		if volume > *minVolume {
			kept = append(kept, items[i])
		}
	}
	return kept, nil
}
