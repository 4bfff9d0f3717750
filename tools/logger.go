package tools

import (
	"flag"
	"fmt"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

var isEnabled = true

func EnableLogger() {
	isEnabled = true
}

func DisableLogger() {
	isEnabled = false
}

// Exposes the glog flags (-v, -logtostderr, -log_dir, ...) on the given flag set
func AddLoggerFlags(flags *pflag.FlagSet) {
	flags.AddGoFlagSet(flag.CommandLine)
}

func LogOutput(val ...interface{}) {
	if isEnabled {
		glog.InfoDepth(1, fmt.Sprintln(val...))
	}
}

// Returns a progress callback logging every time the completed percentage crosses a multiple of step
func NewProgressLogger(step int) func(float64) {
	if step < 1 {
		step = 1
	}
	last := -1
	return func(progress float64) {
		percent := int(progress * 100)
		if percent == last {
			return
		}
		crossed := last < 0 || percent/step != last/step || percent == 100
		last = percent
		if crossed {
			LogOutput(fmt.Sprintf("tiling progress: %d%%", percent))
		}
	}
}
