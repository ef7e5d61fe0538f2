package bconfig

// BaseConfig is implemented by every input and output config, through the embedded Header
type BaseConfig interface {
	GetType() string
}

// Header is the leading "type" key shared by input and output configs
//
// Embed it inline so that the key is accepted by strict decoding of the holder node
type Header struct {
	Type string `yaml:"type"`
}

// GetType returns the value of "type", which selected the config implementation
func (header *Header) GetType() string {
	return header.Type
}
