package bconfig

import (
	"fmt"
	"strings"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/util"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// ConfigHolder wraps a config interface for YAML decoding, by picking the implementation named in "type"
//
// "type" must be the first key of the mapping, so that errors from the remaining keys can be reported against
// the right implementation.
type ConfigHolder[C BaseConfig] struct {
	Location string `yaml:"-"`
	Value    C
}

func (holder ConfigHolder[C]) String() string {
	return fmt.Sprint(holder.Value)
}

// MarshalYAML exports the wrapped config directly
func (holder ConfigHolder[C]) MarshalYAML() (interface{}, error) {
	return holder.Value, nil
}

// UnmarshalYAML selects the implementation by "type" and decodes the whole mapping into it, strictly
func (holder *ConfigHolder[C]) UnmarshalYAML(value *yaml.Node) error {
	reg := registryOf[C]()

	if value.Kind != yaml.MappingNode {
		return util.NewYamlError(value, "expected a mapping with .type")
	}
	if len(value.Content) < 2 {
		return util.NewYamlError(value, ".type is undefined")
	}
	if key := value.Content[0]; key.Kind != yaml.ScalarNode || key.Value != "type" {
		return util.NewYamlError(value, fmt.Sprintf(".type is not the first property, which is: %s", key.Value))
	}
	typeName := value.Content[1].Value

	newConfig, found := reg.creators[typeName]
	if !found {
		return util.NewYamlError(value, fmt.Sprintf(".type: unsupported '%s', expected one of %s", typeName, reg.typeNames()))
	}
	holder.Value = newConfig()

	if err := util.DecodeYamlNodeStrict(value, holder.Value); err != nil {
		return util.NewYamlError(value, err.Error())
	}
	holder.Location = util.GetYamlLocation(value)
	return nil
}

type typeRegistry[C BaseConfig] struct {
	kind     string
	creators map[string]func() C
}

var (
	inputTypes  = &typeRegistry[LogInputConfig]{kind: "input", creators: make(map[string]func() LogInputConfig)}
	outputTypes = &typeRegistry[LogOutputConfig]{kind: "output", creators: make(map[string]func() LogOutputConfig)}
)

func (reg *typeRegistry[C]) add(typeName string, newConfig func() C) {
	if _, exists := reg.creators[typeName]; exists {
		logger.Panicf("%s type '%s' already registered", reg.kind, typeName)
	}
	reg.creators[typeName] = newConfig
}

func (reg *typeRegistry[C]) typeNames() string {
	names := make([]string, 0, len(reg.creators))
	for name := range reg.creators {
		names = append(names, name)
	}
	slices.Sort(names)
	return "[" + strings.Join(names, ", ") + "]"
}

func registryOf[C BaseConfig]() *typeRegistry[C] {
	if reg, ok := any(inputTypes).(*typeRegistry[C]); ok {
		return reg
	}
	if reg, ok := any(outputTypes).(*typeRegistry[C]); ok {
		return reg
	}
	var zero C
	logger.Panicf("no registry for %T", zero)
	return nil
}
