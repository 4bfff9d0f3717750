package tools

import (
	"fmt"
	"strings"

	"github.com/ecopia-map/city_tiler/internal/tiler"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	CommandIndex   = "index"
	CommandMerge   = "merge"
	CommandVerify  = "verify"
	CommandVersion = "version"
)

// Prefix of the environment variables overriding configuration values, e.g. CITY_TILER_WORKERS
const EnvPrefix = "CITY_TILER"

// A configuration option. The first command listed owns the flag, the others share it.
type Option struct {
	Name       string
	Usage      string
	Shorthand  string
	DefaultVal interface{}
	Commands   []string
}

var defaults = tiler.DefaultTilerOptions()

// Options are the configuration options of the tiler
var Options = []Option{
	{
		Name:       "config",
		Usage:      "Configuration file (yaml, toml or json) providing values for any of the flags.",
		DefaultVal: "",
		Commands:   []string{""},
	},
	{
		Name:       "store",
		Usage:      "SQLite geometry store containing the object index and the object documents.",
		Shorthand:  "s",
		DefaultVal: "",
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "output",
		Usage:      "Folder where the tileset.json and the content files are written.",
		Shorthand:  "o",
		DefaultVal: "",
		Commands:   []string{CommandIndex, CommandMerge, CommandVerify},
	},
	{
		Name:       "input",
		Usage:      "Folder whose sub folders each contain a tileset to merge.",
		Shorthand:  "i",
		DefaultVal: "",
		Commands:   []string{CommandMerge},
	},
	{
		Name:       "alpha",
		Usage:      "Renders textured materials opaque with alpha enabled instead of blended.",
		DefaultVal: defaults.AlphaEnabled,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "workers",
		Usage:      "Number of long lived workers, each holding its own store handle.",
		Shorthand:  "w",
		DefaultVal: defaults.Workers,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "concurrency",
		Usage:      "Max number of top level cells in flight. 0 means one per worker.",
		DefaultVal: defaults.Concurrency,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "clean",
		Usage:      "Removes and recreates the output folder before tiling.",
		DefaultVal: defaults.CleanOutput,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "height-offset",
		Usage:      "Vertical offset in meters applied to every object height of the index.",
		Shorthand:  "z",
		DefaultVal: defaults.HeightOffset,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "retries",
		Usage:      "Number of times a cell is resubmitted after its worker failed.",
		DefaultVal: defaults.Retries,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "compositor",
		Usage:      "Compositor merging the objects of a node, one of [pack|command].",
		DefaultVal: strings.ToLower(string(defaults.Algorithm)),
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "compositor-command",
		Usage:      "Executable of the external compositor used with --compositor=command.",
		DefaultVal: defaults.CompositorCommand,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "compositor-ext",
		Usage:      "Extension of the assets produced by the external compositor.",
		DefaultVal: defaults.CompositorExt,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "metrics-addr",
		Usage:      "Address serving prometheus metrics during the run, e.g. :9090. Disabled if empty.",
		DefaultVal: defaults.MetricsAddr,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "strict",
		Usage:      "Reports content files not referenced by the tileset as problems.",
		DefaultVal: false,
		Commands:   []string{CommandVerify},
	},
	{
		Name:       "lod.top-cell-size",
		Usage:      "Cell size in radians of the top level grid.",
		DefaultVal: defaults.Lod.TopCellSize,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "lod.mid-cell-size",
		Usage:      "Cell size in radians of the grid splitting a LOD2 node.",
		DefaultVal: defaults.Lod.MidCellSize,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "lod.fine-cell-size",
		Usage:      "Cell size in radians of the grid splitting a LOD1 node.",
		DefaultVal: defaults.Lod.FineCellSize,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "lod.lod2-min-volume",
		Usage:      "Objects with a smaller volume in cubic meters are left out of LOD2.",
		DefaultVal: defaults.Lod.Lod2MinVolume,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "lod.lod1-min-volume",
		Usage:      "Objects with a smaller volume in cubic meters are left out of LOD1.",
		DefaultVal: defaults.Lod.Lod1MinVolume,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "lod.lod2-resize",
		Usage:      "Texture resize factor of LOD2 assets.",
		DefaultVal: defaults.Lod.Lod2Resize,
		Commands:   []string{CommandIndex},
	},
	{
		Name:       "lod.lod1-resize",
		Usage:      "Texture resize factor of LOD1 assets.",
		DefaultVal: defaults.Lod.Lod1Resize,
		Commands:   []string{CommandIndex},
	},
}

// Returns a viper instance reading CITY_TILER_ prefixed environment variables
func NewConfig() *viper.Viper {
	cfg := viper.New()
	cfg.SetEnvPrefix(EnvPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	cfg.AutomaticEnv()
	return cfg
}

// Defines every option on the flag sets of its commands and binds it to cfg. The empty command
// name refers to the persistent flags of the root command.
func DefineFlags(cfg *viper.Viper, flagSets map[string]*pflag.FlagSet) error {
	for _, option := range Options {
		var owner *pflag.FlagSet
		for i, command := range option.Commands {
			set, ok := flagSets[command]
			if !ok {
				return fmt.Errorf("option %s: unknown command %q", option.Name, command)
			}
			if i != 0 {
				set.AddFlag(owner.Lookup(option.Name))
				continue
			}
			owner = set
			switch v := option.DefaultVal.(type) {
			case string:
				set.StringP(option.Name, option.Shorthand, v, option.Usage)
			case bool:
				set.BoolP(option.Name, option.Shorthand, v, option.Usage)
			case int:
				set.IntP(option.Name, option.Shorthand, v, option.Usage)
			case float64:
				set.Float64P(option.Name, option.Shorthand, v, option.Usage)
			default:
				return fmt.Errorf("option %s: invalid default type %T", option.Name, option.DefaultVal)
			}
		}
		if err := cfg.BindPFlag(option.Name, owner.Lookup(option.Name)); err != nil {
			return err
		}
	}
	return nil
}

// Reads the configuration file named by the config option, if any
func ReadConfigFile(cfg *viper.Viper) error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Builds the TilerOptions of the given command from the merged flag, file and environment values
func TilerOptionsFromConfig(cfg *viper.Viper, command string) *tiler.TilerOptions {
	opts := &tiler.TilerOptions{
		Command:           command,
		Store:             cfg.GetString("store"),
		Output:            cfg.GetString("output"),
		AlphaEnabled:      cfg.GetBool("alpha"),
		Workers:           cfg.GetInt("workers"),
		Concurrency:       cfg.GetInt("concurrency"),
		CleanOutput:       cfg.GetBool("clean"),
		HeightOffset:      cfg.GetFloat64("height-offset"),
		Retries:           cfg.GetInt("retries"),
		Algorithm:         tiler.ParseAlgorithm(cfg.GetString("compositor")),
		CompositorCommand: cfg.GetString("compositor-command"),
		CompositorExt:     cfg.GetString("compositor-ext"),
		MetricsAddr:       cfg.GetString("metrics-addr"),
		Lod: tiler.LodOptions{
			TopCellSize:   cfg.GetFloat64("lod.top-cell-size"),
			MidCellSize:   cfg.GetFloat64("lod.mid-cell-size"),
			FineCellSize:  cfg.GetFloat64("lod.fine-cell-size"),
			Lod2MinVolume: cfg.GetFloat64("lod.lod2-min-volume"),
			Lod1MinVolume: cfg.GetFloat64("lod.lod1-min-volume"),
			Lod2Resize:    cfg.GetFloat64("lod.lod2-resize"),
			Lod1Resize:    cfg.GetFloat64("lod.lod1-resize"),
		},
	}

	switch command {
	case CommandMerge:
		opts.TilerMergeOptions = &tiler.TilerMergeOptions{Input: cfg.GetString("input")}
		if opts.Output == "" {
			opts.Output = opts.TilerMergeOptions.Input
		}
	case CommandVerify:
		opts.TilerVerifyOptions = &tiler.TilerVerifyOptions{Strict: cfg.GetBool("strict")}
	}

	return opts
}
