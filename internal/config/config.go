// Package config loads the embedder-supplied settings named in the external
// interfaces of the ingest server: listen port, chunk sizing, window
// acknowledgement size, and the downstream URL/container-format template the
// external collaborator uses to re-mux received media. The protocol engine
// itself takes none of this as a dependency; Server merely accepts the
// resulting values as plain fields.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete embedder configuration for an ingest server
// process.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Downstream DownstreamConfig `yaml:"downstream,omitempty"`
}

// ServerConfig controls the TCP listener and initial protocol parameters.
type ServerConfig struct {
	ListenAddr        string `yaml:"listen_addr"`         // e.g. ":1935"
	DefaultChunkSize  uint32 `yaml:"default_chunk_size"`  // inbound default, RTMP spec says 128
	OutboundChunkSize uint32 `yaml:"outbound_chunk_size"` // raised at connect, e.g. 1024
	WindowAckSize     uint32 `yaml:"window_ack_size"`     // e.g. 2500000
}

// DownstreamConfig describes where and how reassembled media is re-muxed
// once handed to the external collaborator. The protocol engine does not
// interpret these fields; they exist purely for an embedder's Actor
// implementation to read back out of a shared Config.
type DownstreamConfig struct {
	URLTemplate     string `yaml:"url_template,omitempty"`     // e.g. "https://ingest.example/{app}/{stream}"
	ContainerFormat string `yaml:"container_format,omitempty"` // e.g. "fmp4"
}

// Load reads and decodes a YAML configuration file, rejecting unknown
// fields, then applies defaults to anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":1935"
	}
	if c.Server.DefaultChunkSize == 0 {
		c.Server.DefaultChunkSize = 128
	}
	if c.Server.OutboundChunkSize == 0 {
		c.Server.OutboundChunkSize = 1024
	}
	if c.Server.WindowAckSize == 0 {
		c.Server.WindowAckSize = 2500000
	}
}
