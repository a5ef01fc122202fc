package config

import (
	"strconv"
)

// Config represents the persistent acp-traces configuration stored as
// config.toml in the .acptraces/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version int        `toml:"version"`
	OTLP    OTLPConfig `toml:"otlp"`
}

// OTLPConfig holds exporter settings. These are the persistent counterparts
// of the CLI flags: a flag that is not set on the command line falls back to
// the configured value here.
type OTLPConfig struct {
	Endpoint      string `toml:"endpoint,omitempty"`
	Protocol      string `toml:"protocol,omitempty"`
	ServiceName   string `toml:"service_name,omitempty"`
	RecordContent bool   `toml:"record_content,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"otlp.endpoint": {
		get: func(c *Config) string { return c.OTLP.Endpoint },
		set: func(c *Config, v string) error { c.OTLP.Endpoint = v; return nil },
	},
	"otlp.protocol": {
		get: func(c *Config) string { return c.OTLP.Protocol },
		set: func(c *Config, v string) error {
			if v != ProtocolGRPC && v != ProtocolHTTP {
				return errInvalidProtocol(v)
			}
			c.OTLP.Protocol = v
			return nil
		},
	},
	"otlp.service_name": {
		get: func(c *Config) string { return c.OTLP.ServiceName },
		set: func(c *Config, v string) error { c.OTLP.ServiceName = v; return nil },
	},
	"otlp.record_content": {
		get: func(c *Config) string { return strconv.FormatBool(c.OTLP.RecordContent) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errInvalidBool("otlp.record_content", err)
			}
			c.OTLP.RecordContent = b
			return nil
		},
	},
}
