package main

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/cmd"
)

// version is set by -ldflags at build time
var version = "dev"

var infoGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "slog_ingest_info",
	Help: "Build information of slog-ingest, always 1",
}, []string{"version", "go_version"})

func main() {
	logger.Infof("slog-ingest %s, %s, GOMAXPROCS=%d", version, runtime.Version(), runtime.GOMAXPROCS(0))

	infoGauge.WithLabelValues(version, runtime.Version()).Set(1)
	prometheus.MustRegister(infoGauge)

	cmd.Execute()
}
