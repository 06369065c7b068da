// Package telemetry provides logging, tracing and metrics for mbedconf.
//
// Structured logging uses zerolog. Resolution packages take a plain
// zerolog.Logger, obtained with Logger.Zerolog, and log at debug level.
//
// Tracing uses OpenTelemetry with a stdout or OTLP gRPC exporter. Every
// feature resolution opens a "resolver.features" span with one
// "resolver.resolve" child per pass. Errors are recorded with their kind and
// class:
//
//	ctx, span := tel.Tracer.StartResolutionSpan(ctx, id, "K64F")
//	defer span.End()
//
// Metrics are Prometheus collectors in a private registry:
//
//   - mbedconf_resolutions_total{target,status}
//   - mbedconf_resolution_duration_seconds{target}
//   - mbedconf_feature_iterations{target}
//   - mbedconf_errors_total{kind,class}
//   - mbedconf_policy_violations_total{policy,severity}
//   - mbedconf_watch_reloads_total
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package telemetry
