// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the indexing core.
//
// Logging uses stdlib slog with a JSON handler. Loggers travel through
// context so background reindex jobs and request-scoped work share one
// enrichment path; when a span is active its trace and span ids are attached
// to every line.
//
// Metrics are registered on an injected prometheus.Registry rather than the
// global one, so tests can assert on collectors without cross-test bleed.
//
// Tracing exports over OTLP gRPC and is entirely optional: with no endpoint
// configured the global no-op tracer is used and span calls cost nothing.
package observability
