package algorithm_manager

import (
	"github.com/ecopia-map/city_tiler/internal/converters"
	"github.com/ecopia-map/city_tiler/internal/lod"
	"github.com/ecopia-map/city_tiler/internal/pool"
)

type AlgorithmManager interface {
	GetElevationCorrectionAlgorithm() converters.ElevationCorrector
	GetCoordinateConverterAlgorithm() converters.CoordinateConverter
	GetHandlerFactory() pool.HandlerFactory
	GetPolicy() lod.Policy
}
