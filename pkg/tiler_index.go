package pkg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ecopia-map/city_tiler/internal/converters"
	"github.com/ecopia-map/city_tiler/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/grid"
	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/metrics"
	"github.com/ecopia-map/city_tiler/internal/pool"
	"github.com/ecopia-map/city_tiler/internal/store"
	"github.com/ecopia-map/city_tiler/internal/tiler"
	"github.com/ecopia-map/city_tiler/pkg/algorithm_manager"
	"github.com/ecopia-map/city_tiler/tools"
	"github.com/golang/glog"
)

// Returned when the tileset could not be persisted after a cell completed. The run is aborted.
var ErrCheckpoint = errors.New("checkpoint write failed")

// Geometric error of the per cell wrapper tiles, lower bound of the tileset geometric error
const minTilesetGeometricError = 50

type TilerIndex struct {
	algorithmManager algorithm_manager.AlgorithmManager
	progress         func(float64)
}

// progress is called with completed/total after every top level cell, may be nil
func NewTilerIndex(algorithmManager algorithm_manager.AlgorithmManager, progress func(float64)) *TilerIndex {
	if progress == nil {
		progress = func(float64) {}
	}
	return &TilerIndex{
		algorithmManager: algorithmManager,
		progress:         progress,
	}
}

// Loads the object index of the store and tiles it into the output folder
func (tilerIndex *TilerIndex) RunTiler(ctx context.Context, opts *tiler.TilerOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	items, err := tilerIndex.loadIndex(ctx, opts)
	if err != nil {
		return err
	}

	if opts.MetricsAddr != "" {
		srv := metrics.Serve(opts.MetricsAddr)
		defer srv.Shutdown(context.Background())
	}

	defer tilerIndex.algorithmManager.GetCoordinateConverterAlgorithm().Cleanup()
	return tilerIndex.Run(ctx, items, opts)
}

func (tilerIndex *TilerIndex) loadIndex(ctx context.Context, opts *tiler.TilerOptions) ([]data.GridItem, error) {
	glog.Infof("> reading object index from %s...", opts.Store)
	geometryStore, err := store.Open(ctx, opts.Store)
	if err != nil {
		return nil, err
	}
	defer geometryStore.Close()

	items, err := geometryStore.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	offset_elevation_corrector.CorrectItems(tilerIndex.algorithmManager.GetElevationCorrectionAlgorithm(), items)
	glog.Infof("> %d objects loaded", len(items))

	return items, nil
}

type cellResult struct {
	cellIndex int
	tile      *io.Tile
	err       error
}

// Builds the tileset of the given items. Every top level cell is built by the worker pool,
// the tileset is checkpointed after every cell that produced a tile.
func (tilerIndex *TilerIndex) Run(ctx context.Context, items []data.GridItem, opts *tiler.TilerOptions) error {
	if err := prepareOutput(opts); err != nil {
		return err
	}

	converter := tilerIndex.algorithmManager.GetCoordinateConverterAlgorithm()
	globalBox := data.MergeItemBoundingBoxes(items)
	root := newRootTile()

	if len(items) == 0 {
		glog.Infoln("> no object to tile, writing an empty tileset")
		return writeTileset(opts.Output, root, globalBox, converter)
	}

	cells, err := buildTopGrid(globalBox, items, tilerIndex.algorithmManager.GetPolicy().TopCellSize)
	if err != nil {
		return err
	}
	glog.Infof("> %d objects in %d top level cells", len(items), len(cells))

	workerPool, err := pool.NewPool(opts.Workers, tilerIndex.algorithmManager.GetHandlerFactory())
	if err != nil {
		return err
	}
	if err := workerPool.Init(ctx, pool.InitConfig{StorePath: opts.Store}); err != nil {
		return fmt.Errorf("init worker pool: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workChannel := make(chan *io.WorkUnit)
	resultChannel := make(chan cellResult)

	var producerWaitGroup sync.WaitGroup
	producerWaitGroup.Add(1)
	producer := io.NewStandardProducer(opts.Output, opts.AlphaEnabled)
	go producer.Produce(runCtx, workChannel, &producerWaitGroup, cells)

	var dispatcherWaitGroup sync.WaitGroup
	for i := 0; i < opts.EffectiveConcurrency(); i++ {
		dispatcherWaitGroup.Add(1)
		go func() {
			defer dispatcherWaitGroup.Done()
			for unit := range workChannel {
				start := time.Now()
				tile, err := submit(runCtx, workerPool, unit, opts.Retries)
				metrics.CellDuration.Observe(time.Since(start).Seconds())
				resultChannel <- cellResult{cellIndex: unit.CellIndex, tile: tile, err: err}
			}
		}()
	}
	go func() {
		dispatcherWaitGroup.Wait()
		producerWaitGroup.Wait()
		close(resultChannel)
	}()

	// only this loop touches the root tile
	var checkpointErr error
	completed := 0
	for result := range resultChannel {
		completed++
		switch {
		case result.err != nil:
			metrics.CellsProcessed.WithLabelValues(metrics.OutcomeFailed).Inc()
			glog.Errorf("cell %d failed, skipping it: %v", result.cellIndex, result.err)
		case result.tile == nil:
			metrics.CellsProcessed.WithLabelValues(metrics.OutcomeEmpty).Inc()
			glog.V(1).Infof("cell %d has no object above the LOD2 volume threshold", result.cellIndex)
		default:
			metrics.CellsProcessed.WithLabelValues(metrics.OutcomeSucceeded).Inc()
			root.AddChild(result.tile)
			if checkpointErr == nil {
				if err := writeTileset(opts.Output, root, globalBox, converter); err != nil {
					checkpointErr = err
					cancel()
				}
			}
		}
		tilerIndex.progress(float64(completed) / float64(len(cells)))
	}

	if err := workerPool.Terminate(); err != nil {
		glog.Warningf("terminate worker pool: %v", err)
	}
	stats := workerPool.Stats()
	glog.Infof("> %d cells built, %d failed, %d worker restarts", stats.Completed, stats.Failed, stats.Restarts)

	if checkpointErr != nil {
		return fmt.Errorf("%w: %v", ErrCheckpoint, checkpointErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeTileset(opts.Output, root, globalBox, converter); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	tools.LogOutput("> done tiling", opts.Output)

	return nil
}

func prepareOutput(opts *tiler.TilerOptions) error {
	if opts.CleanOutput {
		return tools.RecreateDirectory(opts.Output)
	}
	return tools.CreateDirectoryIfDoesNotExist(opts.Output)
}

// Buckets the items by centroid in the top level grid covering all of them
func buildTopGrid(globalBox *geometry.BoundingBox, items []data.GridItem, cellSize float64) ([]*grid.Cell[data.GridItem], error) {
	topGrid, err := grid.NewSpatialGrid[data.GridItem](globalBox.Bounds2D(), cellSize)
	if err != nil {
		return nil, err
	}
	for i := range items {
		x, y := items[i].Centroid()
		if err := topGrid.Add(x, y, items[i]); err != nil {
			return nil, fmt.Errorf("object %s: %w", items[i].Name, err)
		}
	}
	return topGrid.Cells(), nil
}

// Submits the unit, resubmitting it with exponential backoff while its worker fails
func submit(ctx context.Context, workerPool *pool.Pool, unit *io.WorkUnit, retries int) (*io.Tile, error) {
	var tile *io.Tile
	var jobErr error

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if retries > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		policy = backoff.WithMaxRetries(b, uint64(retries))
	}

	err := backoff.RetryNotify(
		func() error {
			tile, jobErr = workerPool.Submit(ctx, unit)
			if errors.Is(jobErr, pool.ErrWorkerFailed) && ctx.Err() == nil {
				return jobErr
			}
			return nil
		},
		policy,
		func(err error, d time.Duration) {
			glog.Warningf("cell %d: %v: retrying in %v", unit.CellIndex, err, d)
		},
	)
	if err != nil {
		return nil, err
	}
	return tile, jobErr
}

func newRootTile() *io.Tile {
	return &io.Tile{
		Refine:   tiler.RefineModeAdd.String(),
		Children: make([]*io.Tile, 0),
	}
}

// Updates the region and geometric error of the root from its children and writes the tileset
func writeTileset(folder string, root *io.Tile, fallback *geometry.BoundingBox, converter converters.CoordinateConverter) error {
	tileset, err := buildTileset(root, fallback, converter)
	if err != nil {
		return err
	}
	return io.WriteTilesetJsonFile(folder, tileset)
}

// The root region is the union of the children regions, or the fallback box if there are no
// children. A missing fallback gives a region of zeros.
func buildTileset(root *io.Tile, fallback *geometry.BoundingBox, converter converters.CoordinateConverter) (*io.Tileset, error) {
	geometricError := float64(minTilesetGeometricError)

	bboxList := make([]*geometry.BoundingBox, 0, len(root.Children))
	for _, child := range root.Children {
		bbox, err := child.GetBoundingBox()
		if err != nil {
			return nil, err
		}
		bboxList = append(bboxList, bbox)
		geometricError = math.Max(geometricError, child.GeometricError)
	}

	rootBox := geometry.MergeBoundingBoxList(bboxList)
	if rootBox == nil {
		rootBox = fallback
	}
	if rootBox == nil {
		rootBox = geometry.NewBoundingBox(0, 0, 0, 0, 0, 0)
	}

	volumeError, err := converters.ComputeGeometricError(converter, rootBox)
	if err != nil {
		return nil, err
	}
	geometricError = math.Max(geometricError, volumeError)

	root.BoundingVolume = io.BoundingVolume{Region: rootBox.GetAsArray()}
	root.GeometricError = geometricError

	return &io.Tileset{
		Asset:          io.Asset{Version: io.TilesetVersion},
		GeometricError: geometricError,
		BoundingVolume: io.BoundingVolume{Region: rootBox.GetAsArray()},
		Root:           root,
	}, nil
}
