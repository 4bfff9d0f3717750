package tiler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Algorithm string
type RefineMode string

const (
	// Built in compositor packing the kept object documents into one batched, compressed container
	Pack Algorithm = "PACK"

	// Delegates every node to an external mesh compositor executable
	Command Algorithm = "COMMAND"
)

const (
	RefineModeAdd     RefineMode = "ADD"
	RefineModeReplace RefineMode = "REPLACE"
)

func (e RefineMode) String() string {
	if e == RefineModeAdd {
		return "ADD"
	} else if e == RefineModeReplace {
		return "REPLACE"
	}
	return ""
}

func ParseRefineMode(value string) RefineMode {
	normalizedValue := strings.Trim(strings.ToUpper(value), " ")
	if normalizedValue == "ADD" {
		return RefineModeAdd
	} else if normalizedValue == "REPLACE" {
		return RefineModeReplace
	}
	return ""
}

func ParseAlgorithm(value string) Algorithm {
	normalizedValue := Algorithm(strings.Trim(strings.ToUpper(value), " "))
	if normalizedValue == Pack || normalizedValue == Command {
		return normalizedValue
	}
	return ""
}

type ITiler interface {
	RunTiler(ctx context.Context, opts *TilerOptions) error
}

// Contains the options needed for the tiling pipeline
type TilerOptions struct {
	Command string

	Store        string  // SQLite geometry store
	Output       string  // Output tileset folder
	AlphaEnabled bool    // Textured materials are rendered opaque with alpha enabled, blended otherwise
	Workers      int     // Number of long lived workers
	Concurrency  int     // Max number of top level cells submitted at the same time
	CleanOutput  bool    // Remove and recreate the output folder before tiling
	HeightOffset float64 // Offset in meters applied to every height of the index
	Retries      int     // Retries of cells whose worker failed

	Algorithm         Algorithm // Compositor to use
	CompositorCommand string    // Executable of the external compositor
	CompositorExt     string    // Extension of the assets written by the external compositor

	MetricsAddr string // Address of the prometheus endpoint, disabled if empty

	Lod LodOptions

	TilerMergeOptions  *TilerMergeOptions
	TilerVerifyOptions *TilerVerifyOptions
}

// Policy constants of the three level hierarchy
type LodOptions struct {
	TopCellSize   float64
	MidCellSize   float64
	FineCellSize  float64
	Lod2MinVolume float64
	Lod1MinVolume float64
	Lod2Resize    float64
	Lod1Resize    float64
}

type TilerMergeOptions struct {
	Input string // Folder containing one tileset per sub folder
}

type TilerVerifyOptions struct {
	Strict bool // Orphan content files are reported as problems
}

func DefaultLodOptions() LodOptions {
	return LodOptions{
		TopCellSize:   0.0002,
		MidCellSize:   0.0001,
		FineCellSize:  0.00005,
		Lod2MinVolume: 0.5,
		Lod1MinVolume: 0.1,
		Lod2Resize:    1.0 / 32,
		Lod1Resize:    1.0 / 4,
	}
}

func DefaultTilerOptions() *TilerOptions {
	return &TilerOptions{
		Workers:       4,
		CleanOutput:   true,
		Algorithm:     Pack,
		CompositorExt: "glb",
		Lod:           DefaultLodOptions(),
	}
}

// Returns the number of cells that may be in flight, never more than the number of workers
func (opt *TilerOptions) EffectiveConcurrency() int {
	if opt.Concurrency <= 0 || opt.Concurrency > opt.Workers {
		return opt.Workers
	}
	return opt.Concurrency
}

// Validates the options of the index command, reporting every problem found
func (opt *TilerOptions) Validate() error {
	var problems []string

	if opt.Store == "" {
		problems = append(problems, "store path is required")
	}
	if opt.Output == "" {
		problems = append(problems, "output folder is required")
	}
	if opt.Workers < 1 {
		problems = append(problems, fmt.Sprintf("workers must be at least 1, got %d", opt.Workers))
	}
	if opt.Concurrency < 0 {
		problems = append(problems, fmt.Sprintf("concurrency cannot be negative, got %d", opt.Concurrency))
	}
	if opt.Retries < 0 {
		problems = append(problems, fmt.Sprintf("retries cannot be negative, got %d", opt.Retries))
	}
	switch opt.Algorithm {
	case Pack:
	case Command:
		if opt.CompositorCommand == "" {
			problems = append(problems, "compositor-command is required with the command compositor")
		}
		if opt.CompositorExt == "" {
			problems = append(problems, "compositor-ext is required with the command compositor")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown compositor %q, must be one of [pack|command]", opt.Algorithm))
	}
	if err := opt.Lod.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return errors.New("invalid options: " + strings.Join(problems, "; "))
	}
	return nil
}

func (lod LodOptions) Validate() error {
	var problems []string
	for name, v := range map[string]float64{
		"lod.top-cell-size":  lod.TopCellSize,
		"lod.mid-cell-size":  lod.MidCellSize,
		"lod.fine-cell-size": lod.FineCellSize,
		"lod.lod2-resize":    lod.Lod2Resize,
		"lod.lod1-resize":    lod.Lod1Resize,
	} {
		if !(v > 0) {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %v", name, v))
		}
	}
	if lod.Lod2MinVolume < 0 || lod.Lod1MinVolume < 0 {
		problems = append(problems, "minimum volumes cannot be negative")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (opt *TilerOptions) Copy() *TilerOptions {
	newOpt := *opt

	if opt.TilerMergeOptions != nil {
		mergeOpt := *opt.TilerMergeOptions
		newOpt.TilerMergeOptions = &mergeOpt
	}

	if opt.TilerVerifyOptions != nil {
		verifyOpt := *opt.TilerVerifyOptions
		newOpt.TilerVerifyOptions = &verifyOpt
	}

	return &newOpt
}
