package lod

import (
	"fmt"

	"github.com/ecopia-map/city_tiler/internal/tiler"
)

// Composition and tile parameters of one level of detail
type Level struct {
	Number         int      // 2 is the coarsest, 0 the finest
	MinVolume      *float64 // nil disables the volume filter
	ResizeFactor   float64
	GeometricError float64
	Refine         tiler.RefineMode
}

// Fixed three level hierarchy. Each level is partitioned into the nodes of the next one with a
// grid whose cells shrink geometrically: LOD2 nodes are split with MidCellSize cells into LOD1
// nodes, LOD1 nodes with FineCellSize cells into LOD0 leaves.
type Policy struct {
	TopCellSize   float64
	MidCellSize   float64
	FineCellSize  float64
	WrapperError  float64
	WrapperRefine tiler.RefineMode
	Lod2          Level
	Lod1          Level
	Lod0          Level
}

func NewPolicy(opts tiler.LodOptions) Policy {
	lod2MinVolume := opts.Lod2MinVolume
	lod1MinVolume := opts.Lod1MinVolume
	return Policy{
		TopCellSize:   opts.TopCellSize,
		MidCellSize:   opts.MidCellSize,
		FineCellSize:  opts.FineCellSize,
		WrapperError:  50,
		WrapperRefine: tiler.RefineModeAdd,
		Lod2:          Level{Number: 2, MinVolume: &lod2MinVolume, ResizeFactor: opts.Lod2Resize, GeometricError: 20, Refine: tiler.RefineModeReplace},
		Lod1:          Level{Number: 1, MinVolume: &lod1MinVolume, ResizeFactor: opts.Lod1Resize, GeometricError: 5, Refine: tiler.RefineModeReplace},
		Lod0:          Level{Number: 0, MinVolume: nil, ResizeFactor: 1, GeometricError: 0, Refine: tiler.RefineModeReplace},
	}
}

func DefaultPolicy() Policy {
	return NewPolicy(tiler.DefaultLodOptions())
}

// Geometric errors from the wrapper down to the leaves
func (p Policy) GeometricErrors() []float64 {
	return []float64{p.WrapperError, p.Lod2.GeometricError, p.Lod1.GeometricError, p.Lod0.GeometricError}
}

// Refine modes from the wrapper down to the leaves
func (p Policy) RefineModes() []tiler.RefineMode {
	return []tiler.RefineMode{p.WrapperRefine, p.Lod2.Refine, p.Lod1.Refine, p.Lod0.Refine}
}

// Checks that geometric errors never increase from the wrapper to the leaves
func (p Policy) Validate() error {
	errs := p.GeometricErrors()
	for i := 1; i < len(errs); i++ {
		if errs[i] > errs[i-1] || errs[i] < 0 {
			return fmt.Errorf("geometric errors must be non negative and non increasing, got %v", errs)
		}
	}
	if !(p.MidCellSize > 0 && p.FineCellSize > 0 && p.TopCellSize > 0) {
		return fmt.Errorf("cell sizes must be positive")
	}
	return nil
}
