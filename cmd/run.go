package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/run"
)

type runCommandState struct {
	Config      string `help:"Configuration file path"`
	MetricsAddr string `help:"Address of HTTP listener for Prometheus metrics and pprof, empty to disable"`
}

var runCmd = runCommandState{
	Config:      "config.yml",
	MetricsAddr: ":9335",
}

func (cmd *runCommandState) run(args []string) {
	mfactory := promreg.NewMetricFactory("slogingest_", nil, nil)

	var metricsServer *http.Server
	if cmd.MetricsAddr != "" {
		// process, Go runtime and info metrics are in the default registry
		metricsServer = promreg.LaunchMetricListener(cmd.MetricsAddr, prometheus.Gatherers{prometheus.DefaultGatherer, mfactory}, true)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	runErr := run.Run(cmd.Config, mfactory, sigChan)

	if metricsServer != nil {
		if err := metricsServer.Shutdown(context.Background()); err != nil {
			logger.Errorf("failed to shut down metrics listener: %s", err.Error())
		}
	}
	if runErr != nil {
		logger.Fatalf("failed to run %s: %s", cmd.Config, runErr.Error())
	}
}
