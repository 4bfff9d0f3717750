package pkg

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ecopia-map/city_tiler/internal/compositor"
	"github.com/ecopia-map/city_tiler/internal/converters"
	"github.com/ecopia-map/city_tiler/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/lod"
	"github.com/ecopia-map/city_tiler/internal/pool"
)

// Treats cartographic coordinates as cartesian ones, volumes are then plain box volumes
type identityConverter struct{}

func (identityConverter) ConvertToWGS84Cartesian(coord geometry.Coordinate) (geometry.Coordinate, error) {
	return coord, nil
}

func (identityConverter) Cleanup() {}

type fakeAlgorithmManager struct {
	handlerFactory pool.HandlerFactory
}

func (m *fakeAlgorithmManager) GetElevationCorrectionAlgorithm() converters.ElevationCorrector {
	return offset_elevation_corrector.NewOffsetElevationCorrector(0)
}

func (m *fakeAlgorithmManager) GetCoordinateConverterAlgorithm() converters.CoordinateConverter {
	return identityConverter{}
}

func (m *fakeAlgorithmManager) GetHandlerFactory() pool.HandlerFactory {
	return m.handlerFactory
}

func (m *fakeAlgorithmManager) GetPolicy() lod.Policy {
	return lod.DefaultPolicy()
}

var errBrokenObject = errors.New("broken object")

// Keeps every item, fails on nodes containing an object named "broken"
type fakeCompositor struct{}

func (fakeCompositor) Compose(ctx context.Context, req *compositor.Request) (*compositor.Result, error) {
	for _, item := range req.Items {
		if item.Name == "broken" {
			return nil, errBrokenObject
		}
	}
	return &compositor.Result{
		Asset:       []byte(fmt.Sprintf("lod%d", req.Level)),
		Extension:   "bin",
		BoundingBox: data.MergeItemBoundingBoxes(req.Items),
		Kept:        len(req.Items),
	}, nil
}

func (fakeCompositor) Close() error {
	return nil
}

type fakeHandler struct {
	handleFunc func(ctx context.Context, unit *io.WorkUnit) (*io.Tile, error)
}

func (h *fakeHandler) Handle(ctx context.Context, unit *io.WorkUnit) (*io.Tile, error) {
	return h.handleFunc(ctx, unit)
}

func (h *fakeHandler) Close() error {
	return nil
}

// Handlers building cells with the fake compositor. running and maxRunning, when not nil,
// track the number of cells built at the same time.
func builderFactory(running, maxRunning *int32) pool.HandlerFactory {
	return func(ctx context.Context, cfg pool.InitConfig) (pool.Handler, error) {
		builder := lod.NewBuilder(fakeCompositor{}, lod.DefaultPolicy())
		return &fakeHandler{
			handleFunc: func(ctx context.Context, unit *io.WorkUnit) (*io.Tile, error) {
				if running != nil {
					n := atomic.AddInt32(running, 1)
					defer atomic.AddInt32(running, -1)
					for {
						m := atomic.LoadInt32(maxRunning)
						if n <= m || atomic.CompareAndSwapInt32(maxRunning, m, n) {
							break
						}
					}
				}
				return builder.BuildCell(ctx, unit)
			},
		}, nil
	}
}

// n x n objects, each one in its own top level cell
func gridItems(n int) []data.GridItem {
	items := make([]data.GridItem, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float64(i)*0.001, float64(j)*0.001
			items = append(items, data.GridItem{
				MinX: x, MaxX: x + 0.00001, MinY: y, MaxY: y + 0.00001, MinHeight: 0, MaxHeight: 10,
				Name: fmt.Sprintf("object-%d-%d", i, j),
			})
		}
	}
	return items
}
