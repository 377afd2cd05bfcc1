// Package observability provides the kernel's three ambient monitoring
// primitives: Prometheus metrics (metrics.go), a redacting slog wrapper
// (logging.go), and OpenTelemetry tracing (tracing.go).
//
// The Turn Runner (internal/turnrunner) and Sandbox Executor
// (internal/sandbox) are the components that actually emit metrics and
// spans; this package only provides the constructors and recording methods
// they call. cmd/nexus-kernel builds one *Metrics and one *Tracer per
// process and threads them down through session.Config.
package observability
