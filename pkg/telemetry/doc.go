// Package telemetry provides observability for nixser renders.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind one Telemetry value that travels in a
// context.Context.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Logs go to stderr by default so that rendered Nix can be piped from
// stdout.
//
// # Tracing
//
// Each render gets a root span ("render") and one child span per pipeline
// stage ("render.load", "render.policy", "render.encode", "render.write",
// "render.record"):
//
//	op := telemetry.StartOperation(ctx, "encode")
//	text, err := nix.Encode(v)
//	op.End(err)
//
// Exporters are "stdout" (pretty JSON on stderr), "otlp" (gRPC, endpoint
// required) and "none". Tracing is off by default.
//
// # Metrics
//
// Metrics live in a private registry under the "nixser" namespace:
//
//   - renders_total{status,format}
//   - render_duration_seconds{format}
//   - output_bytes
//   - outputs_unchanged_total
//   - errors_by_class_total{class}
//   - policy_violations_total{policy,severity}
//
// Setting MetricsConfig.ListenAddress serves them over HTTP via
// Metrics.Serve, which is useful in watch mode.
package telemetry
