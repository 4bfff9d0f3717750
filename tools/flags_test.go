package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ecopia-map/city_tiler/internal/tiler"
	"github.com/spf13/pflag"
)

func newTestFlagSets() map[string]*pflag.FlagSet {
	return map[string]*pflag.FlagSet{
		"":            pflag.NewFlagSet("root", pflag.ContinueOnError),
		CommandIndex:  pflag.NewFlagSet(CommandIndex, pflag.ContinueOnError),
		CommandMerge:  pflag.NewFlagSet(CommandMerge, pflag.ContinueOnError),
		CommandVerify: pflag.NewFlagSet(CommandVerify, pflag.ContinueOnError),
	}
}

func TestTilerOptionsFromConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	sets := newTestFlagSets()
	if err := DefineFlags(cfg, sets); err != nil {
		t.Fatal(err)
	}
	if err := sets[CommandIndex].Parse([]string{"--store", "city.db", "-o", "out", "--workers=2", "--lod.mid-cell-size=0.0003"}); err != nil {
		t.Fatal(err)
	}

	opts := TilerOptionsFromConfig(cfg, CommandIndex)
	if opts.Store != "city.db" || opts.Output != "out" || opts.Workers != 2 {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.Algorithm != tiler.Pack || !opts.CleanOutput || opts.CompositorExt != "glb" {
		t.Errorf("defaults not applied: %+v", opts)
	}
	want := tiler.DefaultLodOptions()
	want.MidCellSize = 0.0003
	if opts.Lod != want {
		t.Errorf("have lod %+v, want %+v", opts.Lod, want)
	}
	if err := opts.Validate(); err != nil {
		t.Error(err)
	}
}

func TestTilerOptionsFromConfigFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	content := "store: from-file.db\noutput: out\nworkers: 3\nlod:\n  lod2-min-volume: 2.5\n"
	if err := os.WriteFile(file, []byte(content), 0666); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CITY_TILER_RETRIES", "2")

	cfg := NewConfig()
	sets := newTestFlagSets()
	if err := DefineFlags(cfg, sets); err != nil {
		t.Fatal(err)
	}
	if err := sets[""].Parse([]string{"--config", file}); err != nil {
		t.Fatal(err)
	}
	if err := ReadConfigFile(cfg); err != nil {
		t.Fatal(err)
	}

	opts := TilerOptionsFromConfig(cfg, CommandIndex)
	if opts.Store != "from-file.db" || opts.Workers != 3 || opts.Retries != 2 || opts.Lod.Lod2MinVolume != 2.5 {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestMergeOutputDefaultsToInput(t *testing.T) {
	cfg := NewConfig()
	sets := newTestFlagSets()
	if err := DefineFlags(cfg, sets); err != nil {
		t.Fatal(err)
	}
	if err := sets[CommandMerge].Parse([]string{"-i", "runs"}); err != nil {
		t.Fatal(err)
	}
	opts := TilerOptionsFromConfig(cfg, CommandMerge)
	if opts.TilerMergeOptions.Input != "runs" || opts.Output != "runs" {
		t.Errorf("unexpected merge options %+v", opts)
	}
}
