// Package input lists all input types available in configuration
package input

import (
	"sync"

	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/input/httpinput"
	"github.com/relex/slog-ingest/input/lineinput"
)

var registerOnce sync.Once

// Register makes all input types known to bconfig. It's safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		bconfig.RegisterInputType("http", func() bconfig.LogInputConfig { return &httpinput.Config{} })
		bconfig.RegisterInputType("tcp", func() bconfig.LogInputConfig { return &lineinput.Config{} })
	})
}
