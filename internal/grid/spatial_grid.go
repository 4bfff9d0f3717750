package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/shopspring/decimal"
)

// Returned by Add and CellIndex for points outside the grid bounds
var ErrOutOfBounds = errors.New("point outside grid bounds")

// A single value stored in the grid together with the point used to place it
type Entry[T any] struct {
	X    float64
	Y    float64
	Data T
}

// A non empty bucket of the grid
type Cell[T any] struct {
	Index   int
	Entries []Entry[T]
}

// Sparse uniform 2D bucket index over a rectangle. Only cells that received at least one entry
// are allocated. Cell order is the order in which cells were first populated.
type SpatialGrid[T any] struct {
	bounds   geom.Bounds
	cellSize float64
	countX   int
	countY   int
	cells    map[int]*Cell[T]
	order    []int
}

// Builds an empty grid over bounds with square cells of the given size. Axes with zero extent
// get a single cell.
func NewSpatialGrid[T any](bounds *geom.Bounds, cellSize float64) (*SpatialGrid[T], error) {
	if !(cellSize > 0) {
		return nil, fmt.Errorf("cell size must be positive, got %v", cellSize)
	}
	if bounds == nil {
		return nil, errors.New("grid bounds are nil")
	}
	if bounds.Min.X > bounds.Max.X || bounds.Min.Y > bounds.Max.Y {
		return nil, fmt.Errorf("grid bounds are inverted: %+v", *bounds)
	}

	return &SpatialGrid[T]{
		bounds:   *bounds,
		cellSize: cellSize,
		countX:   cellCount(bounds.Max.X-bounds.Min.X, cellSize),
		countY:   cellCount(bounds.Max.Y-bounds.Min.Y, cellSize),
		cells:    make(map[int]*Cell[T]),
	}, nil
}

// ceil(extent/cellSize) computed in decimal arithmetic so that extents which are an exact
// multiple of the cell size do not gain a spurious extra column
func cellCount(extent float64, cellSize float64) int {
	count := decimal.NewFromFloat(extent).Div(decimal.NewFromFloat(cellSize)).Ceil().IntPart()
	if count < 1 {
		return 1
	}
	return int(count)
}

// Stores data under the cell containing (x, y)
func (g *SpatialGrid[T]) Add(x, y float64, data T) error {
	index, err := g.CellIndex(x, y)
	if err != nil {
		return err
	}

	cell, ok := g.cells[index]
	if !ok {
		cell = &Cell[T]{Index: index}
		g.cells[index] = cell
		g.order = append(g.order, index)
	}
	cell.Entries = append(cell.Entries, Entry[T]{X: x, Y: y, Data: data})

	return nil
}

// Returns the index of the cell containing (x, y). Points lying on the upper bound belong to
// the last row/column.
func (g *SpatialGrid[T]) CellIndex(x, y float64) (int, error) {
	if math.IsNaN(x) || math.IsNaN(y) ||
		x < g.bounds.Min.X || x > g.bounds.Max.X || y < g.bounds.Min.Y || y > g.bounds.Max.Y {
		return 0, fmt.Errorf("%w: (%v, %v) not in [%v, %v]x[%v, %v]", ErrOutOfBounds,
			x, y, g.bounds.Min.X, g.bounds.Max.X, g.bounds.Min.Y, g.bounds.Max.Y)
	}

	ix := dimensionIndex(x, g.bounds.Min.X, g.bounds.Max.X, g.countX)
	iy := dimensionIndex(y, g.bounds.Min.Y, g.bounds.Max.Y, g.countY)

	return ix + iy*g.countX, nil
}

func dimensionIndex(v, min, max float64, count int) int {
	extent := max - min
	if extent == 0 {
		return 0
	}
	i := int(math.Floor((v - min) / extent * float64(count)))
	if i >= count {
		i = count - 1
	}
	return i
}

// Returns the non empty cells in creation order
func (g *SpatialGrid[T]) Cells() []*Cell[T] {
	cells := make([]*Cell[T], 0, len(g.order))
	for _, index := range g.order {
		cells = append(cells, g.cells[index])
	}
	return cells
}

// Number of non empty cells
func (g *SpatialGrid[T]) Len() int {
	return len(g.order)
}

func (g *SpatialGrid[T]) CellCountX() int {
	return g.countX
}

func (g *SpatialGrid[T]) CellCountY() int {
	return g.countY
}

func (g *SpatialGrid[T]) Bounds() geom.Bounds {
	return g.bounds
}
