package config

const (
	// ProtocolGRPC selects the OTLP/gRPC exporter transport.
	ProtocolGRPC = "grpc"

	// ProtocolHTTP selects the OTLP/HTTP exporter transport.
	ProtocolHTTP = "http"

	defaultEndpoint    = "http://localhost:4317"
	defaultProtocol    = ProtocolGRPC
	defaultServiceName = "acp-agent"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		OTLP: OTLPConfig{
			Endpoint:    defaultEndpoint,
			Protocol:    defaultProtocol,
			ServiceName: defaultServiceName,
		},
	}
}
