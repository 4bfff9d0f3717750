package pkg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/tiler"
	"github.com/ecopia-map/city_tiler/pkg/algorithm_manager"
	"github.com/ecopia-map/city_tiler/tools"
	"github.com/golang/glog"
)

type TilerMerge struct {
	fileFinder       tools.FileFinder
	algorithmManager algorithm_manager.AlgorithmManager
}

func NewTilerMerge(fileFinder tools.FileFinder, algorithmManager algorithm_manager.AlgorithmManager) tiler.ITiler {
	return &TilerMerge{
		fileFinder:       fileFinder,
		algorithmManager: algorithmManager,
	}
}

// Writes a parent tileset referencing the tileset of every sub folder of the input folder
func (tilerMerge *TilerMerge) RunTiler(ctx context.Context, opts *tiler.TilerOptions) error {
	if opts.TilerMergeOptions == nil || opts.TilerMergeOptions.Input == "" {
		return errors.New("input folder is required")
	}
	defer tilerMerge.algorithmManager.GetCoordinateConverterAlgorithm().Cleanup()

	tilesetFiles, err := tilerMerge.fileFinder.GetTilesetsToMerge(opts)
	if err != nil {
		return err
	}
	if len(tilesetFiles) == 0 {
		return fmt.Errorf("no tileset found in the sub folders of %s", opts.TilerMergeOptions.Input)
	}
	for i, file := range tilesetFiles {
		glog.Infof("tileset %d [%s]", i+1, file)
	}

	if err := tools.CreateDirectoryIfDoesNotExist(opts.Output); err != nil {
		return err
	}

	root := newRootTile()
	for _, file := range tilesetFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		child, err := externalTile(opts.Output, file)
		if err != nil {
			return err
		}
		root.AddChild(child)
	}

	if err := writeTileset(opts.Output, root, nil, tilerMerge.algorithmManager.GetCoordinateConverterAlgorithm()); err != nil {
		return err
	}
	tools.LogOutput("> done merging", len(tilesetFiles), "tilesets into", opts.Output)

	return nil
}

// Tile referencing a child tileset, with the region and geometric error of its root
func externalTile(outputDir string, tilesetFile string) (*io.Tile, error) {
	tileset, err := io.ReadTilesetJsonFile(tilesetFile)
	if err != nil {
		return nil, err
	}
	if _, err := tileset.Root.GetBoundingBox(); err != nil {
		return nil, fmt.Errorf("%s: %w", tilesetFile, err)
	}
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}
	absFile, err := filepath.Abs(tilesetFile)
	if err != nil {
		return nil, err
	}
	uri, err := filepath.Rel(absOutput, absFile)
	if err != nil {
		return nil, err
	}

	return &io.Tile{
		BoundingVolume: tileset.Root.BoundingVolume,
		GeometricError: tileset.GeometricError,
		Content:        &io.Content{Uri: filepath.ToSlash(uri)},
		Children:       make([]*io.Tile, 0),
	}, nil
}
