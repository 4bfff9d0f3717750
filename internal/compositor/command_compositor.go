package compositor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ecopia-map/city_tiler/internal/data"
	"github.com/golang/glog"
)

// Environment variable carrying the path where the external compositor must write the asset
const CommandOutputEnv = "CITY_TILER_OUTPUT"

// Document sent on the standard input of the external compositor
type commandRequest struct {
	Store        string   `json:"store"`
	Level        int      `json:"level"`
	Objects      []string `json:"objects"`
	MinVolume    *float64 `json:"minVolume,omitempty"`
	ResizeFactor float64  `json:"resizeFactor"`
	AlphaMode    string   `json:"alphaMode"`
	Output       string   `json:"output"`
}

// Compositor delegating each node to an external mesh compositor executable, e.g. a tool
// merging, simplifying and compressing meshes into glb. The volume filter runs in process so
// that empty nodes never spawn the tool.
type CommandCompositor struct {
	program   string
	args      []string
	extension string
	storePath string
	tempDir   string
	filter    *VolumeFilter
}

// command is split on white space into the program and its leading arguments
func NewCommandCompositor(command string, extension string, storePath string, filter *VolumeFilter) (*CommandCompositor, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty compositor command")
	}
	tempDir, err := os.MkdirTemp("", "city-tiler-compositor-")
	if err != nil {
		return nil, err
	}
	return &CommandCompositor{
		program:   fields[0],
		args:      fields[1:],
		extension: strings.TrimPrefix(extension, "."),
		storePath: storePath,
		tempDir:   tempDir,
		filter:    filter,
	}, nil
}

func (c *CommandCompositor) Compose(ctx context.Context, req *Request) (*Result, error) {
	kept, err := c.filter.Filter(req.Items, req.MinVolume)
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		return nil, nil
	}

	outputFile, err := os.CreateTemp(c.tempDir, "node-*."+c.extension)
	if err != nil {
		return nil, err
	}
	outputFileLocation := outputFile.Name()
	outputFile.Close()
	defer func() {
		if err := os.Remove(outputFileLocation); err != nil && !os.IsNotExist(err) {
			glog.Warningf("delete temporary compositor output %s failed: %v", outputFileLocation, err)
		}
	}()

	if err := c.invokeCompositor(ctx, kept, req, outputFileLocation); err != nil {
		return nil, err
	}

	asset, err := os.ReadFile(outputFileLocation)
	if err != nil {
		return nil, fmt.Errorf("read compositor output: %w", err)
	}
	if len(asset) == 0 {
		return nil, fmt.Errorf("compositor wrote an empty asset for %d objects", len(kept))
	}

	return &Result{
		Asset:       asset,
		Extension:   c.extension,
		BoundingBox: data.MergeItemBoundingBoxes(req.Items),
		Kept:        len(kept),
	}, nil
}

func (c *CommandCompositor) invokeCompositor(ctx context.Context, kept []data.GridItem, req *Request, outputFileLocation string) error {
	names := make([]string, len(kept))
	for i := range kept {
		names[i] = kept[i].Name
	}
	input, err := json.Marshal(commandRequest{
		Store:        c.storePath,
		Level:        req.Level,
		Objects:      names,
		MinVolume:    req.MinVolume,
		ResizeFactor: req.ResizeFactor,
		AlphaMode:    AlphaMode(req.AlphaEnabled),
		Output:       outputFileLocation,
	})
	if err != nil {
		return err
	}

	runCmd := exec.CommandContext(ctx, c.program, c.args...)
	runCmd.Env = append(os.Environ(), CommandOutputEnv+"="+outputFileLocation)
	runCmd.Stdin = bytes.NewReader(input)

	var cmdStdout, cmdStderr bytes.Buffer
	runCmd.Stdout = &cmdStdout
	runCmd.Stderr = &cmdStderr

	if err := runCmd.Run(); err != nil {
		glog.Errorf("run failed %s cmd-stdout %s cmd-stderr %s: %v", runCmd.String(), cmdStdout.String(), cmdStderr.String(), err)
		return fmt.Errorf("compositor command %s: %w", filepath.Base(c.program), err)
	}
	glog.V(2).Infof("run compositor success %s level %d objects %d", runCmd.String(), req.Level, len(kept))
	return nil
}

// Removes the temporary folder of the compositor outputs
func (c *CommandCompositor) Close() error {
	return os.RemoveAll(c.tempDir)
}
