package run

import (
	"fmt"

	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/input"
	"github.com/relex/slog-ingest/output"
	"github.com/relex/slog-ingest/util"
)

// Config defines the root of slog-ingest config file
type Config struct {
	Inputs []bconfig.LogInputConfigHolder `yaml:"inputs"`
	Output bconfig.LogOutputConfigHolder  `yaml:"output"`
}

func init() {
	input.Register()
	output.Register()
}

// LoadConfigFile loads config from the path and verifies all configurations
func LoadConfigFile(filepath string) (*Config, error) {
	cref := &Config{}
	if err := util.UnmarshalYamlFile(filepath, cref); err != nil {
		return nil, err
	}
	if err := cref.VerifyConfig(); err != nil {
		return nil, err
	}
	return cref, nil
}

// VerifyConfig checks all sections
func (cfg *Config) VerifyConfig() error {
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("inputs: no input defined")
	}
	for i, holder := range cfg.Inputs {
		if err := holder.Value.VerifyConfig(); err != nil {
			return fmt.Errorf("inputs[%d] %s: %w", i, holder.Location, err)
		}
	}
	if any(cfg.Output.Value) == nil {
		return fmt.Errorf("output: undefined")
	}
	if err := cfg.Output.Value.VerifyConfig(); err != nil {
		return fmt.Errorf("output %s: %w", cfg.Output.Location, err)
	}
	return nil
}
