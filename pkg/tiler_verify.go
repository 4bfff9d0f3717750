package pkg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/lod"
	"github.com/ecopia-map/city_tiler/internal/tiler"
	"github.com/ecopia-map/city_tiler/tools"
	"github.com/golang/glog"
)

type TilerVerify struct {
	fileFinder tools.FileFinder
	policy     lod.Policy
}

func NewTilerVerify(fileFinder tools.FileFinder) tiler.ITiler {
	return &TilerVerify{
		fileFinder: fileFinder,
		policy:     lod.DefaultPolicy(),
	}
}

// Outcome of a tileset verification
type Report struct {
	Tilesets int
	Tiles    int
	Contents int
	Problems []string
}

func (r *Report) addProblem(format string, args ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func (tilerVerify *TilerVerify) RunTiler(ctx context.Context, opts *tiler.TilerOptions) error {
	strict := opts.TilerVerifyOptions != nil && opts.TilerVerifyOptions.Strict

	report, err := tilerVerify.Verify(opts.Output, strict)
	if err != nil {
		return err
	}
	for _, problem := range report.Problems {
		glog.Errorln(problem)
	}
	if len(report.Problems) > 0 {
		return fmt.Errorf("%d problems found in %s", len(report.Problems), opts.Output)
	}
	tools.LogOutput(fmt.Sprintf("> %s is valid: %d tilesets, %d tiles, %d content files", opts.Output, report.Tilesets, report.Tiles, report.Contents))

	return nil
}

// Checks the tileset.json of the folder and every tileset it references. Unreferenced content
// files are problems in strict mode and warnings otherwise.
func (tilerVerify *TilerVerify) Verify(folder string, strict bool) (*Report, error) {
	report := &Report{}
	if err := tilerVerify.verifyTileset(filepath.Join(folder, io.TilesetFileName), strict, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (tilerVerify *TilerVerify) verifyTileset(file string, strict bool, report *Report) error {
	tileset, err := io.ReadTilesetJsonFile(file)
	if err != nil {
		return err
	}
	report.Tilesets++
	folder := filepath.Dir(file)

	if tileset.Asset.Version != io.TilesetVersion {
		report.addProblem("%s: asset version %q, want %q", file, tileset.Asset.Version, io.TilesetVersion)
	}
	if len(tileset.BoundingVolume.Region) != 6 {
		report.addProblem("%s: tileset bounding volume region has %d values, want 6", file, len(tileset.BoundingVolume.Region))
	}
	if tileset.Root.GeometricError > tileset.GeometricError {
		report.addProblem("%s: root geometric error %v above the tileset geometric error %v", file, tileset.Root.GeometricError, tileset.GeometricError)
	}

	referenced := make(map[string]bool)
	var externals []string
	tilerVerify.verifyTile(file, "root", tileset.Root, nil, -1, strict, report, func(uri string) {
		if strings.HasSuffix(uri, ".json") {
			externals = append(externals, filepath.Join(folder, filepath.FromSlash(uri)))
			return
		}
		referenced[uri] = true
		report.Contents++
		if _, err := os.Stat(filepath.Join(folder, filepath.FromSlash(uri))); err != nil {
			report.addProblem("%s: content %s: %v", file, uri, err)
		}
	})

	files, err := tilerVerify.fileFinder.GetContentFiles(folder)
	if err != nil {
		return err
	}
	for _, name := range files {
		if referenced[name] {
			continue
		}
		if strict {
			report.addProblem("%s: content file %s is not referenced", file, name)
		} else {
			glog.Warningf("%s: content file %s is not referenced", file, name)
		}
	}

	for _, external := range externals {
		if err := tilerVerify.verifyTileset(external, strict, report); err != nil {
			report.addProblem("%s: %v", file, err)
		}
	}
	return nil
}

// level is the position of the tile in a cell subtree, 0 for the wrapper tiles, or -1 above the
// cells
func (tilerVerify *TilerVerify) verifyTile(file string, path string, tile *io.Tile, parent *io.Tile, level int, strict bool, report *Report, content func(uri string)) {
	report.Tiles++

	bbox, err := tile.GetBoundingBox()
	if err != nil {
		report.addProblem("%s: %s: %v", file, path, err)
		return
	}
	if err := bbox.Validate(); err != nil {
		report.addProblem("%s: %s: %v", file, path, err)
	}
	if parent != nil {
		parentBox, err := parent.GetBoundingBox()
		if err == nil && !parentBox.Contains(bbox, geometry.ContainmentEpsilon) {
			report.addProblem("%s: %s: region %v not contained in parent region %v", file, path, bbox.GetAsArray(), parentBox.GetAsArray())
		}
		if tile.GeometricError > parent.GeometricError {
			report.addProblem("%s: %s: geometric error %v above parent geometric error %v", file, path, tile.GeometricError, parent.GeometricError)
		}
	}

	external := tile.Content != nil && strings.HasSuffix(tile.Content.Uri, ".json")
	if tile.Content != nil {
		content(tile.Content.Uri)
	}
	if external {
		return
	}
	if level >= 0 {
		tilerVerify.verifyLevel(file, path, tile, level, strict, report)
	}

	for i, child := range tile.Children {
		tilerVerify.verifyTile(file, fmt.Sprintf("%s.children[%d]", path, i), child, tile, level+1, strict, report, content)
	}
}

// A node without children above the leaf level is legitimate when every object of its
// buckets was filtered out, so it is only a problem in strict mode
func (tilerVerify *TilerVerify) verifyLevel(file string, path string, tile *io.Tile, level int, strict bool, report *Report) {
	wantErrors := tilerVerify.policy.GeometricErrors()
	wantRefine := tilerVerify.policy.RefineModes()
	leafLevel := len(wantErrors) - 1

	if level > leafLevel {
		report.addProblem("%s: %s: hierarchy deeper than %d levels", file, path, leafLevel+1)
		return
	}
	if tile.GeometricError != wantErrors[level] {
		report.addProblem("%s: %s: geometric error %v, want %v", file, path, tile.GeometricError, wantErrors[level])
	}
	if tile.Refine != wantRefine[level].String() {
		report.addProblem("%s: %s: refine %q, want %q", file, path, tile.Refine, wantRefine[level])
	}
	if level == 0 && tile.Content != nil {
		report.addProblem("%s: %s: cell tile must not have content", file, path)
	}
	if level > 0 && tile.Content == nil {
		report.addProblem("%s: %s: missing content", file, path)
	}
	if level < leafLevel && len(tile.Children) == 0 {
		if strict {
			report.addProblem("%s: %s: leaf at level %d, want %d", file, path, level, leafLevel)
		} else {
			glog.Warningf("%s: %s: leaf at level %d, want %d", file, path, level, leafLevel)
		}
	}
}
