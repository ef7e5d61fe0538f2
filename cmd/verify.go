package cmd

import (
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/run"
)

type verifyCommandState struct {
	Config string `help:"Configuration file path"`
}

var verifyCmd = verifyCommandState{
	Config: "config.yml",
}

func (cmd *verifyCommandState) verify(args []string) {
	config, err := run.LoadConfigFile(cmd.Config)
	if err != nil {
		logger.Fatalf("invalid config %s: %s", cmd.Config, err.Error())
	}
	logger.Infof("verified %s: %d input(s), output %s", cmd.Config, len(config.Inputs), config.Output.Value.GetType())
}
