package offset_elevation_corrector

import (
	"github.com/ecopia-map/city_tiler/internal/converters"
	"github.com/ecopia-map/city_tiler/internal/data"
)

// Shifts every height by a constant number of meters
type OffsetElevationCorrector struct {
	Offset float64
}

func NewOffsetElevationCorrector(offset float64) converters.ElevationCorrector {
	return &OffsetElevationCorrector{
		Offset: offset,
	}
}

func (c *OffsetElevationCorrector) CorrectElevation(lon, lat, z float64) float64 {
	return z + c.Offset
}

// Applies the corrector to the height extent of every item, in place
func CorrectItems(corrector converters.ElevationCorrector, items []data.GridItem) {
	for i := range items {
		lon, lat := items[i].Centroid()
		items[i].MinHeight = corrector.CorrectElevation(lon, lat, items[i].MinHeight)
		items[i].MaxHeight = corrector.CorrectElevation(lon, lat, items[i].MaxHeight)
	}
}
