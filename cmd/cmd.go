// Package cmd defines the command line: "run" to ingest logs and "verify" to check a config file
package cmd

import (
	"github.com/relex/gotils/config"
)

func init() {
	config.AddParentCmdWithArgs("", "slog-ingest accepts logs over TCP or HTTP, with or without TLS, and forwards them upstream", &rootCmd, rootCmd.preRun, rootCmd.postRun)
	config.AddCmdWithArgs("run ...", "Run inputs and output until SIGINT or SIGTERM", &runCmd, runCmd.run)
	config.AddCmdWithArgs("verify ...", "Load and verify a config file, then exit", &verifyCmd, verifyCmd.verify)
}

// Execute runs the command chosen by command-line arguments
func Execute() {
	config.Execute()
}
