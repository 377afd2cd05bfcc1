package config

// ServerConfig configures the kernel's optional diagnostics endpoints.
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}
