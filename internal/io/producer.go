package io

import (
	"context"
	"sync"

	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/grid"
)

type Producer interface {
	Produce(ctx context.Context, work chan *WorkUnit, wg *sync.WaitGroup, cells []*grid.Cell[data.GridItem])
}

type StandardProducer struct {
	outputDir    string
	alphaEnabled bool
}

func NewStandardProducer(outputDir string, alphaEnabled bool) *StandardProducer {
	return &StandardProducer{
		outputDir:    outputDir,
		alphaEnabled: alphaEnabled,
	}
}

// Submits one WorkUnit per top level cell to the work channel. Closes the channel when all work
// is submitted or the context is cancelled.
func (p *StandardProducer) Produce(ctx context.Context, work chan *WorkUnit, wg *sync.WaitGroup, cells []*grid.Cell[data.GridItem]) {
	defer wg.Done()
	defer close(work)

	for _, cell := range cells {
		items := make([]data.GridItem, len(cell.Entries))
		for i, entry := range cell.Entries {
			items[i] = entry.Data
		}

		select {
		case work <- &WorkUnit{
			CellIndex:    cell.Index,
			Items:        items,
			OutputDir:    p.outputDir,
			AlphaEnabled: p.alphaEnabled,
		}:
		case <-ctx.Done():
			return
		}
	}
}
