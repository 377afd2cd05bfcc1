package config

// LoggingConfig controls the process-wide structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// TracingConfig controls the process-wide OpenTelemetry tracer. An empty
// Endpoint disables export entirely (traces are still generated against a
// no-op provider, so Tracer.Start calls never need a nil check beyond the
// Tracer pointer itself).
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
}
