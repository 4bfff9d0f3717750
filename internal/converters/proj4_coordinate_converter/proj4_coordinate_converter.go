package proj4_coordinate_converter

import (
	"fmt"
	"sync"

	"github.com/ecopia-map/city_tiler/internal/converters"
	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/xeonx/proj4"
)

const (
	wgs84GeodeticDefinition = "+proj=longlat +datum=WGS84 +no_defs"
	wgs84GeocentDefinition  = "+proj=geocent +datum=WGS84 +units=m +no_defs"
)

// Converts WGS84 geodetic coordinates to ECEF through proj4. Projections are initialized
// lazily and shared, access to them is serialized.
type proj4CoordinateConverter struct {
	geodetic *proj4.Proj
	geocent  *proj4.Proj
	sync.Mutex
}

func NewProj4CoordinateConverter() converters.CoordinateConverter {
	return &proj4CoordinateConverter{}
}

func (cc *proj4CoordinateConverter) init() error {
	if cc.geodetic != nil && cc.geocent != nil {
		return nil
	}

	geodetic, err := proj4.InitPlus(wgs84GeodeticDefinition)
	if err != nil {
		return fmt.Errorf("init geodetic projection: %w", err)
	}
	geocent, err := proj4.InitPlus(wgs84GeocentDefinition)
	if err != nil {
		geodetic.Close()
		return fmt.Errorf("init geocentric projection: %w", err)
	}

	cc.geodetic = geodetic
	cc.geocent = geocent
	return nil
}

// Input longitude and latitude are in radians as expected by proj4 for latlong systems
func (cc *proj4CoordinateConverter) ConvertToWGS84Cartesian(coord geometry.Coordinate) (geometry.Coordinate, error) {
	cc.Lock()
	defer cc.Unlock()

	if err := cc.init(); err != nil {
		return geometry.Coordinate{}, err
	}

	x, y, z := []float64{coord.X}, []float64{coord.Y}, []float64{coord.Z}
	if err := proj4.Transform3(cc.geodetic, cc.geocent, x, y, z); err != nil {
		return geometry.Coordinate{}, fmt.Errorf("transform (%v, %v, %v) to ECEF: %w", coord.X, coord.Y, coord.Z, err)
	}

	return geometry.Coordinate{X: x[0], Y: y[0], Z: z[0]}, nil
}

// Releases the proj4 projection objects
func (cc *proj4CoordinateConverter) Cleanup() {
	cc.Lock()
	defer cc.Unlock()

	if cc.geodetic != nil {
		cc.geodetic.Close()
		cc.geodetic = nil
	}
	if cc.geocent != nil {
		cc.geocent.Close()
		cc.geocent = nil
	}
}
