package converters

import (
	"math"

	"github.com/ecopia-map/city_tiler/internal/geometry"
)

type CoordinateConverter interface {
	// Converts a geodetic WGS84 coordinate (radians, meters) to earth centered earth fixed cartesian meters
	ConvertToWGS84Cartesian(coord geometry.Coordinate) (geometry.Coordinate, error)
	Cleanup()
}

// Estimates the volume in cubic meters of a cartographic box by converting its min and max
// corners to ECEF and multiplying the side lengths of the resulting cartesian box
func ComputeBoundingBoxVolume(converter CoordinateConverter, bbox *geometry.BoundingBox) (float64, error) {
	minCorner, err := converter.ConvertToWGS84Cartesian(geometry.Coordinate{X: bbox.Xmin, Y: bbox.Ymin, Z: bbox.Zmin})
	if err != nil {
		return 0, err
	}
	maxCorner, err := converter.ConvertToWGS84Cartesian(geometry.Coordinate{X: bbox.Xmax, Y: bbox.Ymax, Z: bbox.Zmax})
	if err != nil {
		return 0, err
	}

	return math.Abs((maxCorner.X - minCorner.X) * (maxCorner.Y - minCorner.Y) * (maxCorner.Z - minCorner.Z)), nil
}

// Geometric error of a region computed as the cube root of its ECEF volume
func ComputeGeometricError(converter CoordinateConverter, bbox *geometry.BoundingBox) (float64, error) {
	volume, err := ComputeBoundingBoxVolume(converter, bbox)
	if err != nil {
		return 0, err
	}
	return math.Cbrt(volume), nil
}
