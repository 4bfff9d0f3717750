package std_algorithm_manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/pool"
	"github.com/ecopia-map/city_tiler/internal/store"
	"github.com/ecopia-map/city_tiler/internal/tiler"
)

func createStore(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := store.Create(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	house := &store.Object{
		Name:        "house",
		Type:        "Building",
		BoundingBox: geometry.NewBoundingBox(0.00001, 0.000012, 0.00001, 0.000012, 0, 10),
		Doc:         []byte("house-mesh"),
	}
	if err := s.PutObject(ctx, house); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHandlerFactoryPack(t *testing.T) {
	ctx := context.Background()
	path := createStore(t)
	opts := tiler.DefaultTilerOptions()
	opts.Store = path

	s, err := store.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	items, err := s.LoadIndex(ctx)
	s.Close()
	if err != nil {
		t.Fatal(err)
	}

	handler, err := NewAlgorithmManager(opts).GetHandlerFactory()(ctx, pool.InitConfig{StorePath: path, WorkerID: 1})
	if err != nil {
		t.Fatal(err)
	}

	output := t.TempDir()
	tile, err := handler.Handle(ctx, &io.WorkUnit{Items: items, OutputDir: output})
	if err != nil {
		t.Fatal(err)
	}
	if tile == nil {
		t.Fatal("have an empty cell, want a tile")
	}
	if tile.Refine != tiler.RefineModeAdd.String() {
		t.Errorf("have refine %s, want ADD", tile.Refine)
	}

	files, err := os.ReadDir(output)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("have %d assets, want one per level", len(files))
	}
	if err := handler.Close(); err != nil {
		t.Error(err)
	}
}

func TestHandlerFactoryErrors(t *testing.T) {
	ctx := context.Background()
	path := createStore(t)

	tests := []struct {
		name  string
		opts  func(*tiler.TilerOptions)
		store string
	}{
		{
			name:  "missing store",
			opts:  func(*tiler.TilerOptions) {},
			store: filepath.Join(t.TempDir(), "missing.db"),
		},
		{
			name: "empty compositor command",
			opts: func(o *tiler.TilerOptions) {
				o.Algorithm = tiler.Command
				o.CompositorCommand = " "
			},
			store: path,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := tiler.DefaultTilerOptions()
			test.opts(opts)
			if _, err := NewAlgorithmManager(opts).GetHandlerFactory()(ctx, pool.InitConfig{StorePath: test.store}); err == nil {
				t.Error("factory should fail")
			}
		})
	}
}

func TestGetPolicy(t *testing.T) {
	opts := tiler.DefaultTilerOptions()
	opts.Lod.TopCellSize = 0.0004
	policy := NewAlgorithmManager(opts).GetPolicy()
	if policy.TopCellSize != 0.0004 {
		t.Errorf("have top cell size %v", policy.TopCellSize)
	}
	if err := policy.Validate(); err != nil {
		t.Error(err)
	}
}
