package cmd

import (
	"os"
	"runtime/pprof"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/defs"
)

// rootCommandState holds flags shared by all commands
type rootCommandState struct {
	CPUProfile string `name:"cpuprofile" help:"Write CPU profile to file until exit"`
	TestMode   bool   `help:"Shorten timeouts and flush intervals, for integration tests"`

	profileOutput *os.File
}

var rootCmd rootCommandState

func (cmd *rootCommandState) preRun() {
	if cmd.TestMode {
		defs.EnableTestMode()
		logger.Infof("test mode: flush interval %s", defs.InputFlushInterval)
	}
	if cmd.CPUProfile == "" {
		return
	}

	f, err := os.Create(cmd.CPUProfile)
	if err != nil {
		logger.Fatalf("failed to create CPU profile %s: %s", cmd.CPUProfile, err.Error())
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		logger.Fatalf("failed to start CPU profiling: %s", err.Error())
	}
	logger.Infof("CPU profiling to %s", cmd.CPUProfile)
	cmd.profileOutput = f
}

func (cmd *rootCommandState) postRun() {
	if cmd.profileOutput == nil {
		return
	}
	pprof.StopCPUProfile()
	if err := cmd.profileOutput.Close(); err != nil {
		logger.Errorf("failed to close CPU profile %s: %s", cmd.CPUProfile, err.Error())
	}
}
