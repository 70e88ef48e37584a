package config

// TracingConfig controls optional OTLP trace export. Disabled by default;
// serve mode is the only consumer.
type TracingConfig struct {
	// Enabled turns trace export on.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Endpoint is the OTLP/HTTP collector address (host:port, no scheme).
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`

	// ServiceName is reported as service.name.
	ServiceName string `mapstructure:"service_name" json:"service_name"`

	// Environment is reported as deployment.environment.
	Environment string `mapstructure:"environment" json:"environment"`
}
