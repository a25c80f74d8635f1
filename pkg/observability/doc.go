/*
Package observability turns lifecycle hooks into Prometheus metrics and structured
log lines, and sets up OpenTelemetry tracing for the spans the executor emits.
*/
package observability
