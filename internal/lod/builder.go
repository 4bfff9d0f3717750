package lod

import (
	"context"
	"fmt"

	"github.com/ecopia-map/city_tiler/internal/compositor"
	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/grid"
	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/metrics"
	"github.com/golang/glog"
)

// Builds the tile subtree of a top level cell: a wrapper tile holding one LOD2 node, split into
// LOD1 nodes, themselves split into LOD0 leaves.
type Builder struct {
	compositor compositor.Compositor
	policy     Policy
	newWriter  func(folder string) io.AssetWriter
}

func NewBuilder(c compositor.Compositor, policy Policy) *Builder {
	return &Builder{
		compositor: c,
		policy:     policy,
		newWriter: func(folder string) io.AssetWriter {
			return io.NewStandardAssetWriter(folder)
		},
	}
}

// Returns the wrapper tile of the cell, or nil if none of its objects passed the LOD2 filter.
// The assets of a cell that fails are removed before returning.
func (b *Builder) BuildCell(ctx context.Context, unit *io.WorkUnit) (*io.Tile, error) {
	writer := b.newWriter(unit.OutputDir)
	completed := false
	defer func() {
		if completed {
			return
		}
		if err := writer.Rollback(); err != nil {
			glog.Warningf("cell %d: remove assets: %v", unit.CellIndex, err)
		}
	}()

	tile, err := b.buildCell(ctx, writer, unit)
	completed = err == nil
	return tile, err
}

func (b *Builder) buildCell(ctx context.Context, writer io.AssetWriter, unit *io.WorkUnit) (*io.Tile, error) {
	lod2, lod2Box, err := b.buildNode(ctx, writer, b.policy.Lod2, unit.Items, unit.AlphaEnabled)
	if err != nil || lod2 == nil {
		return nil, err
	}

	midCells, err := partition(lod2Box, b.policy.MidCellSize, unit.Items)
	if err != nil {
		return nil, fmt.Errorf("cell %d: %w", unit.CellIndex, err)
	}
	for _, midItems := range midCells {
		lod1, lod1Box, err := b.buildNode(ctx, writer, b.policy.Lod1, midItems, unit.AlphaEnabled)
		if err != nil {
			return nil, err
		}
		if lod1 == nil {
			continue
		}

		fineCells, err := partition(lod1Box, b.policy.FineCellSize, midItems)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", unit.CellIndex, err)
		}
		for _, fineItems := range fineCells {
			lod0, _, err := b.buildNode(ctx, writer, b.policy.Lod0, fineItems, unit.AlphaEnabled)
			if err != nil {
				return nil, err
			}
			if lod0 != nil {
				lod1.AddChild(lod0)
			}
		}
		lod2.AddChild(lod1)
	}

	wrapper := io.NewTile(lod2Box, b.policy.WrapperError, b.policy.WrapperRefine, "")
	wrapper.AddChild(lod2)
	glog.V(2).Infof("cell %d: %d objects, %d LOD1 nodes", unit.CellIndex, len(unit.Items), len(lod2.Children))

	return wrapper, nil
}

// Composes the items of one node and writes its asset. Returns a nil tile when the compositor
// kept nothing.
func (b *Builder) buildNode(ctx context.Context, writer io.AssetWriter, level Level, items []data.GridItem, alphaEnabled bool) (*io.Tile, *geometry.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	metrics.CompositorCalls.WithLabelValues(fmt.Sprintf("lod%d", level.Number)).Inc()

	result, err := b.compositor.Compose(ctx, &compositor.Request{
		Level:        level.Number,
		Items:        items,
		MinVolume:    level.MinVolume,
		ResizeFactor: level.ResizeFactor,
		AlphaEnabled: alphaEnabled,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("compose lod%d: %w", level.Number, err)
	}
	if result == nil {
		return nil, nil, nil
	}

	uri, err := writer.WriteAsset(level.Number, result.Extension, result.Asset)
	if err != nil {
		return nil, nil, err
	}

	return io.NewTile(result.BoundingBox, level.GeometricError, level.Refine, uri), result.BoundingBox, nil
}

// Buckets the items by centroid in a grid covering bbox. Buckets are returned in creation order.
func partition(bbox *geometry.BoundingBox, cellSize float64, items []data.GridItem) ([][]data.GridItem, error) {
	g, err := grid.NewSpatialGrid[data.GridItem](bbox.Bounds2D(), cellSize)
	if err != nil {
		return nil, err
	}
	for i := range items {
		x, y := items[i].Centroid()
		if err := g.Add(x, y, items[i]); err != nil {
			return nil, err
		}
	}

	cells := g.Cells()
	buckets := make([][]data.GridItem, len(cells))
	for i, cell := range cells {
		buckets[i] = make([]data.GridItem, len(cell.Entries))
		for j, entry := range cell.Entries {
			buckets[i][j] = entry.Data
		}
	}
	return buckets, nil
}
