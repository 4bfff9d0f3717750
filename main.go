/*
 * This file is part of the Go Cesium Point Cloud Tiler distribution (https://github.com/mfbonfigli/gocesiumtiler).
 * Copyright (c) 2019 Massimo Federico Bonfigli - m.federico.bonfigli@gmail.com
 *
 * This program is free software; you can redistribute it and/or modify it
 * under the terms of the GNU Lesser General Public License Version 3 as
 * published by the Free Software Foundation;
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
 * Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 *
 * This software also uses third party components. You can find information
 * on their credits and licensing in the file LICENSE-3RD-PARTIES.md that
 * you should have received togheter with the source code.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ecopia-map/city_tiler/internal/tiler"
	"github.com/ecopia-map/city_tiler/pkg"
	"github.com/ecopia-map/city_tiler/pkg/algorithm_manager/std_algorithm_manager"
	"github.com/ecopia-map/city_tiler/tools"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const VERSION = "0.3.0"

const logo = `
      _ _               _   _ _
  ___(_) |_ _   _      | |_(_) | ___ _ __
 / __| | __| | | |_____| __| | |/ _ \ '__|
| (__| | |_| |_| |_____| |_| | |  __/ |
 \___|_|\__|\__, |      \__|_|_|\___|_|
            |___/  3D Tiles generator for city models, Copyright YYYY
`

var cfg = tools.NewConfig()

var rootCmd = &cobra.Command{
	Use:   "city_tiler",
	Short: "Generates 3D Tiles tilesets from a city model geometry store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return tools.ReadConfigFile(cfg)
	},
	SilenceUsage: true,
}

var indexCmd = &cobra.Command{
	Use:   tools.CommandIndex,
	Short: "Builds the tileset of every object of a geometry store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		printLogo()
		opts := tools.TilerOptionsFromConfig(cfg, tools.CommandIndex)
		glog.Infoln("options", tools.FmtJSONString(opts))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		defer timeTrack(time.Now(), "tiling")

		tilerIndex := pkg.NewTilerIndex(std_algorithm_manager.NewAlgorithmManager(opts), tools.NewProgressLogger(10))
		return run(ctx, tilerIndex, opts)
	},
}

var mergeCmd = &cobra.Command{
	Use:   tools.CommandMerge,
	Short: "Writes a parent tileset referencing the tilesets found in the sub folders of the input folder.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := tools.TilerOptionsFromConfig(cfg, tools.CommandMerge)
		merger := pkg.NewTilerMerge(tools.NewStandardFileFinder(), std_algorithm_manager.NewAlgorithmManager(opts))
		return run(context.Background(), merger, opts)
	},
}

var verifyCmd = &cobra.Command{
	Use:   tools.CommandVerify,
	Short: "Checks the hierarchy, the bounding volumes and the content files of a tileset.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := tools.TilerOptionsFromConfig(cfg, tools.CommandVerify)
		if opts.Output == "" {
			return fmt.Errorf("output folder is required")
		}
		return run(context.Background(), pkg.NewTilerVerify(tools.NewStandardFileFinder()), opts)
	},
}

var versionCmd = &cobra.Command{
	Use:   tools.CommandVersion,
	Short: "Prints the version.",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

func init() {
	rootCmd.AddCommand(indexCmd, mergeCmd, verifyCmd, versionCmd)

	flagSets := map[string]*pflag.FlagSet{
		"":                  rootCmd.PersistentFlags(),
		tools.CommandIndex:  indexCmd.Flags(),
		tools.CommandMerge:  mergeCmd.Flags(),
		tools.CommandVerify: verifyCmd.Flags(),
	}
	if err := tools.DefineFlags(cfg, flagSets); err != nil {
		panic(err)
	}
	tools.AddLoggerFlags(rootCmd.PersistentFlags())
}

func main() {
	defer glog.Flush()

	if err := rootCmd.Execute(); err != nil {
		glog.Errorln(err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, t tiler.ITiler, opts *tiler.TilerOptions) error {
	if err := t.RunTiler(ctx, opts); err != nil {
		return fmt.Errorf("%s failed: %w", opts.Command, err)
	}
	tools.LogOutput(opts.Command, "completed")
	return nil
}

func timeTrack(start time.Time, name string) {
	elapsed := time.Since(start)
	tools.LogOutput(fmt.Sprintf("%s took %s", name, elapsed))
}

func printLogo() {
	fmt.Println(strings.ReplaceAll(logo, "YYYY", strconv.Itoa(time.Now().Year())))
}

func printVersion() {
	fmt.Println("v." + VERSION)
}
