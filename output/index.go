// Package output lists all output types available in configuration
package output

import (
	"sync"

	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/output/fluentdforward"
	"github.com/relex/slog-ingest/output/lineforward"
	"github.com/relex/slog-ingest/output/stdoutput"
)

var registerOnce sync.Once

// Register makes all output types known to bconfig. It's safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		bconfig.RegisterOutputType("fluentdForward", func() bconfig.LogOutputConfig { return &fluentdforward.Config{} })
		bconfig.RegisterOutputType("lineForward", func() bconfig.LogOutputConfig { return &lineforward.Config{} })
		bconfig.RegisterOutputType("stdout", func() bconfig.LogOutputConfig { return &stdoutput.Config{} })
	})
}
