package geometry

// Generic coordinate triple. Geographic coordinates are expressed in radians, heights and
// cartesian coordinates in meters
type Coordinate struct {
	X float64
	Y float64
	Z float64
}
