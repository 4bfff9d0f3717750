package std_algorithm_manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecopia-map/city_tiler/internal/compositor"
	"github.com/ecopia-map/city_tiler/internal/converters"
	"github.com/ecopia-map/city_tiler/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/city_tiler/internal/converters/proj4_coordinate_converter"
	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/lod"
	"github.com/ecopia-map/city_tiler/internal/pool"
	"github.com/ecopia-map/city_tiler/internal/store"
	"github.com/ecopia-map/city_tiler/internal/tiler"
	"github.com/ecopia-map/city_tiler/pkg/algorithm_manager"
)

type StdAlgorithmManager struct {
	options             *tiler.TilerOptions
	coordinateConverter converters.CoordinateConverter
	elevationCorrector  converters.ElevationCorrector
}

func NewAlgorithmManager(opts *tiler.TilerOptions) algorithm_manager.AlgorithmManager {
	return &StdAlgorithmManager{
		options:             opts,
		coordinateConverter: proj4_coordinate_converter.NewProj4CoordinateConverter(),
		elevationCorrector:  offset_elevation_corrector.NewOffsetElevationCorrector(opts.HeightOffset),
	}
}

func (m *StdAlgorithmManager) GetElevationCorrectionAlgorithm() converters.ElevationCorrector {
	return m.elevationCorrector
}

// Converter owned by the orchestrator. Workers get their own instance.
func (m *StdAlgorithmManager) GetCoordinateConverterAlgorithm() converters.CoordinateConverter {
	return m.coordinateConverter
}

func (m *StdAlgorithmManager) GetPolicy() lod.Policy {
	return lod.NewPolicy(m.options.Lod)
}

// Each worker opens a read only store handle, a coordinate converter and the compositor
// selected in the options
func (m *StdAlgorithmManager) GetHandlerFactory() pool.HandlerFactory {
	return func(ctx context.Context, cfg pool.InitConfig) (pool.Handler, error) {
		geometryStore, err := store.Open(ctx, cfg.StorePath)
		if err != nil {
			return nil, err
		}
		converter := proj4_coordinate_converter.NewProj4CoordinateConverter()
		filter := compositor.NewVolumeFilter(converter)

		var c compositor.Compositor
		switch m.options.Algorithm {
		case tiler.Command:
			c, err = compositor.NewCommandCompositor(m.options.CompositorCommand, m.options.CompositorExt, cfg.StorePath, filter)
		default:
			c, err = compositor.NewPacker(geometryStore, filter)
		}
		if err != nil {
			converter.Cleanup()
			geometryStore.Close()
			return nil, fmt.Errorf("worker %d compositor: %w", cfg.WorkerID, err)
		}

		return &cellHandler{
			builder:    lod.NewBuilder(c, m.GetPolicy()),
			compositor: c,
			store:      geometryStore,
			converter:  converter,
		}, nil
	}
}

// Resources of one worker
type cellHandler struct {
	builder    *lod.Builder
	compositor compositor.Compositor
	store      store.GeometryStore
	converter  converters.CoordinateConverter
}

func (h *cellHandler) Handle(ctx context.Context, unit *io.WorkUnit) (*io.Tile, error) {
	return h.builder.BuildCell(ctx, unit)
}

func (h *cellHandler) Close() error {
	err := errors.Join(h.compositor.Close(), h.store.Close())
	h.converter.Cleanup()
	return err
}
