package util

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// YamlError is a config error at a particular node, as "yaml line L:C: message"
type YamlError struct {
	Line    int
	Column  int
	Message string
}

func (e *YamlError) Error() string {
	return fmt.Sprintf("yaml line %d:%d: %s", e.Line, e.Column, e.Message)
}

// NewYamlError creates a *YamlError at the position of node
func NewYamlError(node *yaml.Node, message string) error {
	return &YamlError{Line: node.Line, Column: node.Column, Message: message}
}

// GetYamlLocation describes the position of node for logs, followed by its head comment or anchor if any
func GetYamlLocation(node *yaml.Node) string {
	location := fmt.Sprintf("yaml line %d:%d", node.Line, node.Column)
	if node.HeadComment != "" {
		return location + " " + node.HeadComment
	}
	if node.Anchor != "" {
		return location + " " + node.Anchor
	}
	return location
}

// UnmarshalYamlFile decodes the file at path into output, rejecting unknown fields
func UnmarshalYamlFile(path string, output interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return UnmarshalYamlReader(file, output)
}

// UnmarshalYamlReader decodes one document from reader into output, rejecting unknown fields
//
// Custom unmarshalers receive nodes and need DecodeYamlNodeStrict to keep the same strictness
func UnmarshalYamlReader(reader io.Reader, output interface{}) error {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	return decoder.Decode(output)
}

// UnmarshalYamlString is UnmarshalYamlReader for inline documents
func UnmarshalYamlString(contents string, output interface{}) error {
	return UnmarshalYamlReader(strings.NewReader(contents), output)
}

// DecodeYamlNodeStrict decodes node into output, rejecting unknown fields
//
// yaml.Node.Decode has no KnownFields, so the node is encoded back to text and decoded by a strict decoder
func DecodeYamlNodeStrict(node *yaml.Node, output interface{}) error {
	contents, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	return UnmarshalYamlReader(bytes.NewReader(contents), output)
}
