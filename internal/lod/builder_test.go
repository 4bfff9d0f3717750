package lod

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ecopia-map/city_tiler/internal/compositor"
	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/ecopia-map/city_tiler/internal/geometry"
	"github.com/ecopia-map/city_tiler/internal/io"
	"github.com/ecopia-map/city_tiler/internal/tiler"
)

type fakeCompositor struct {
	composeFunc func(req *compositor.Request) (*compositor.Result, error)
	requests    []compositor.Request
}

func (f *fakeCompositor) Compose(ctx context.Context, req *compositor.Request) (*compositor.Result, error) {
	f.requests = append(f.requests, *req)
	if f.composeFunc != nil {
		return f.composeFunc(req)
	}
	return keepAll(req), nil
}

func (f *fakeCompositor) Close() error {
	return nil
}

func keepAll(req *compositor.Request) *compositor.Result {
	return &compositor.Result{
		Asset:       []byte(fmt.Sprintf("lod%d-%d", req.Level, len(req.Items))),
		Extension:   "bin",
		BoundingBox: data.MergeItemBoundingBoxes(req.Items),
		Kept:        len(req.Items),
	}
}

func square(name string, x, y, size float64) data.GridItem {
	return data.GridItem{MinX: x, MaxX: x + size, MinY: y, MaxY: y + size, MinHeight: 0, MaxHeight: 10, Name: name}
}

// one object in each corner of a top level cell, so that the mid grid has four buckets
func cornerItems() []data.GridItem {
	return []data.GridItem{
		square("a", 0, 0, 0.00001),
		square("b", 0.00019, 0, 0.00001),
		square("c", 0, 0.00019, 0.00001),
		square("d", 0.00019, 0.00019, 0.00001),
	}
}

func newUnit(t *testing.T, items []data.GridItem) *io.WorkUnit {
	return &io.WorkUnit{CellIndex: 7, Items: items, OutputDir: t.TempDir()}
}

func TestBuildCellHierarchy(t *testing.T) {
	fake := &fakeCompositor{}
	unit := newUnit(t, cornerItems())

	wrapper, err := NewBuilder(fake, DefaultPolicy()).BuildCell(context.Background(), unit)
	if err != nil {
		t.Fatal(err)
	}
	if wrapper == nil {
		t.Fatal("expected a tile")
	}
	if wrapper.Content != nil {
		t.Error("wrapper tile should have no content")
	}
	if len(wrapper.Children) != 1 {
		t.Fatalf("wrapper has %d children, want 1", len(wrapper.Children))
	}
	lod2 := wrapper.Children[0]
	if len(lod2.Children) != 4 {
		t.Fatalf("LOD2 has %d children, want 4", len(lod2.Children))
	}
	for _, lod1 := range lod2.Children {
		if len(lod1.Children) != 1 {
			t.Errorf("LOD1 has %d children, want 1", len(lod1.Children))
		}
	}

	wantErrors := DefaultPolicy().GeometricErrors()
	wantRefine := DefaultPolicy().RefineModes()
	contents := 0
	err = wrapper.Walk(func(tile *io.Tile, ancestors []*io.Tile) error {
		depth := len(ancestors)
		if tile.GeometricError != wantErrors[depth] {
			t.Errorf("depth %d: have geometric error %v, want %v", depth, tile.GeometricError, wantErrors[depth])
		}
		if tile.Refine != wantRefine[depth].String() {
			t.Errorf("depth %d: have refine %s, want %s", depth, tile.Refine, wantRefine[depth])
		}
		if depth > 0 {
			parent, _ := ancestors[depth-1].GetBoundingBox()
			child, _ := tile.GetBoundingBox()
			if !parent.Contains(child, geometry.ContainmentEpsilon) {
				t.Errorf("depth %d: region %v not inside parent %v", depth, child.GetAsArray(), parent.GetAsArray())
			}
		}
		if tile.Content != nil {
			contents++
			if _, err := os.Stat(filepath.Join(unit.OutputDir, tile.Content.Uri)); err != nil {
				t.Errorf("content missing: %v", err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if contents != 9 {
		t.Errorf("have %d content tiles, want 9", contents)
	}

	files, _ := os.ReadDir(unit.OutputDir)
	if len(files) != 9 {
		t.Errorf("have %d files, want 9", len(files))
	}

	wantBox := data.MergeItemBoundingBoxes(unit.Items).GetAsArray()
	if !reflect.DeepEqual(wrapper.BoundingVolume.Region, wantBox) {
		t.Errorf("have wrapper region %v, want %v", wrapper.BoundingVolume.Region, wantBox)
	}
}

func TestBuildCellRequests(t *testing.T) {
	fake := &fakeCompositor{}
	unit := newUnit(t, cornerItems())
	unit.AlphaEnabled = true

	if _, err := NewBuilder(fake, DefaultPolicy()).BuildCell(context.Background(), unit); err != nil {
		t.Fatal(err)
	}
	if len(fake.requests) != 9 {
		t.Fatalf("have %d requests, want 9", len(fake.requests))
	}

	lod2 := fake.requests[0]
	if lod2.Level != 2 || *lod2.MinVolume != 0.5 || lod2.ResizeFactor != 1.0/32 || len(lod2.Items) != 4 {
		t.Errorf("unexpected LOD2 request %+v", lod2)
	}
	lod1 := fake.requests[1]
	if lod1.Level != 1 || *lod1.MinVolume != 0.1 || lod1.ResizeFactor != 0.25 || len(lod1.Items) != 1 {
		t.Errorf("unexpected LOD1 request %+v", lod1)
	}
	lod0 := fake.requests[2]
	if lod0.Level != 0 || lod0.MinVolume != nil || lod0.ResizeFactor != 1 || len(lod0.Items) != 1 {
		t.Errorf("unexpected LOD0 request %+v", lod0)
	}
	for _, req := range fake.requests {
		if !req.AlphaEnabled {
			t.Errorf("alpha not forwarded to level %d", req.Level)
		}
	}
}

func TestBuildCellEmpty(t *testing.T) {
	fake := &fakeCompositor{
		composeFunc: func(req *compositor.Request) (*compositor.Result, error) {
			return nil, nil
		},
	}
	unit := newUnit(t, cornerItems())

	tile, err := NewBuilder(fake, DefaultPolicy()).BuildCell(context.Background(), unit)
	if err != nil {
		t.Fatal(err)
	}
	if tile != nil {
		t.Errorf("expected no tile, have %+v", tile)
	}
	if len(fake.requests) != 1 {
		t.Errorf("have %d requests, want only the LOD2 one", len(fake.requests))
	}
	files, _ := os.ReadDir(unit.OutputDir)
	if len(files) != 0 {
		t.Errorf("have %d files, want none", len(files))
	}
}

func TestBuildCellSkipsEmptyNodes(t *testing.T) {
	fake := &fakeCompositor{
		composeFunc: func(req *compositor.Request) (*compositor.Result, error) {
			if req.Level == 1 && req.Items[0].Name == "a" {
				return nil, nil
			}
			if req.Level == 0 && req.Items[0].Name == "b" {
				return nil, nil
			}
			return keepAll(req), nil
		},
	}

	wrapper, err := NewBuilder(fake, DefaultPolicy()).BuildCell(context.Background(), newUnit(t, cornerItems()))
	if err != nil {
		t.Fatal(err)
	}
	lod2 := wrapper.Children[0]
	if len(lod2.Children) != 3 {
		t.Fatalf("LOD2 has %d children, want 3", len(lod2.Children))
	}
	leaves := 0
	for _, lod1 := range lod2.Children {
		leaves += len(lod1.Children)
	}
	if leaves != 2 {
		t.Errorf("have %d leaves, want 2", leaves)
	}
}

func TestBuildCellComposeError(t *testing.T) {
	failure := errors.New("broken mesh")
	fake := &fakeCompositor{
		composeFunc: func(req *compositor.Request) (*compositor.Result, error) {
			if req.Level == 0 {
				return nil, failure
			}
			return keepAll(req), nil
		},
	}

	unit := newUnit(t, cornerItems())
	_, err := NewBuilder(fake, DefaultPolicy()).BuildCell(context.Background(), unit)
	if !errors.Is(err, failure) {
		t.Errorf("have %v, want %v", err, failure)
	}
	files, _ := os.ReadDir(unit.OutputDir)
	if len(files) != 0 {
		t.Errorf("have %d files left by the failed cell, want none", len(files))
	}
}

func TestBuildCellRemovesAssetsOnFailure(t *testing.T) {
	failure := errors.New("object lookup failed")
	fake := &fakeCompositor{
		composeFunc: func(req *compositor.Request) (*compositor.Result, error) {
			if req.Level == 1 && req.Items[0].Name == "c" {
				return nil, failure
			}
			return keepAll(req), nil
		},
	}

	unit := newUnit(t, cornerItems())
	tile, err := NewBuilder(fake, DefaultPolicy()).BuildCell(context.Background(), unit)
	if !errors.Is(err, failure) {
		t.Fatalf("have %v, want %v", err, failure)
	}
	if tile != nil {
		t.Error("failed cell should return no tile")
	}
	// LOD2 plus the a and b subtrees were written before the failure
	if len(fake.requests) != 6 {
		t.Errorf("have %d requests, want 6", len(fake.requests))
	}
	files, _ := os.ReadDir(unit.OutputDir)
	if len(files) != 0 {
		t.Errorf("have %d files left by the failed cell, want none", len(files))
	}
}

func TestBuildCellRemovesAssetsOnPanic(t *testing.T) {
	fake := &fakeCompositor{
		composeFunc: func(req *compositor.Request) (*compositor.Result, error) {
			if req.Level == 0 {
				panic("corrupt geometry")
			}
			return keepAll(req), nil
		},
	}

	unit := newUnit(t, cornerItems())
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		NewBuilder(fake, DefaultPolicy()).BuildCell(context.Background(), unit)
	}()
	files, _ := os.ReadDir(unit.OutputDir)
	if len(files) != 0 {
		t.Errorf("have %d files left by the failed cell, want none", len(files))
	}
}

func TestBuildCellCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeCompositor{}

	_, err := NewBuilder(fake, DefaultPolicy()).BuildCell(ctx, newUnit(t, cornerItems()))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("have %v, want %v", err, context.Canceled)
	}
	if len(fake.requests) != 0 {
		t.Errorf("have %d requests, want none", len(fake.requests))
	}
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.GeometricErrors(), []float64{50, 20, 5, 0}) {
		t.Errorf("have %v", p.GeometricErrors())
	}
	want := []tiler.RefineMode{tiler.RefineModeAdd, tiler.RefineModeReplace, tiler.RefineModeReplace, tiler.RefineModeReplace}
	if !reflect.DeepEqual(p.RefineModes(), want) {
		t.Errorf("have %v", p.RefineModes())
	}

	p.Lod1.GeometricError = 30
	if err := p.Validate(); err == nil {
		t.Error("increasing geometric error should be rejected")
	}
}
