// Package observability provides monitoring and debugging capabilities for
// relayd's three components — the background agent scheduler, the
// context-window recovery controller, and the tool-output pruning engine —
// through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: minimal performance impact during a long-lived serve run
//   - Optional: every collaborator is nil-checked by its caller, so a runtime
//     can run metrics-only, tracing-only, or fully instrumented
//   - Standards-based: uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - Background tasks launched, completed, and currently active per
//     concurrency key
//   - Queue depth and queue-wait time per concurrency key
//   - Recovery attempts and their duration, broken down by phase and outcome
//   - Tokens reclaimed by a pruning pass, broken down by strategy
//   - Errors by component and error type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	defer promhttp.Handler() // Expose metrics endpoint
//
//	metrics.TaskLaunched(task.ConcurrencyKey)
//	metrics.SetQueueDepth(key, concurrency.QueueDepth(key))
//
//	metrics.RecordRecoveryAttempt("truncate", "recovered", time.Since(start).Seconds())
//	metrics.RecordPruningSavings("dedup", tokensSaved)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	logger.Info(ctx, "task launched",
//	    "task_id", task.ID,
//	    "concurrency_key", task.ConcurrencyKey,
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "recovery summarize failed",
//	    "error", err,
//	    "provider", providerID,
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track:
//   - A background task's full lifetime, from launch protocol to terminal
//     completion
//   - A single RecoveryController.Recover call
//   - A single pruning engine pass
//   - Individual tool executions
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "relayd",
//	    Endpoint:    cfg.Tracing.OTLPEndpoint, // OTLP collector
//	    SamplingRate: 0.1,                     // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	// Trace a background task's async lifetime
//	tracer.TraceBackgroundTask(task.ID, task.ConcurrencyKey)
//	// ... later, from the goroutine that observes completion ...
//	tracer.EndBackgroundTask(task.ID, string(status))
//
//	// Trace a synchronous recovery attempt
//	ctx, finish := tracer.TraceRecovery(ctx, sessionID, providerID, modelID)
//	outcome, err := controller.recover(ctx, sessionID, providerID, modelID, st, rawErr)
//	finish(string(outcome), err)
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Configuration
//
// All components support configuration via structs, normally populated from
// the relayd.yaml sections of the same name (config.LoggingConfig,
// config.MetricsConfig, config.TracingConfig):
//
//	// Metrics - no configuration needed, auto-registered
//	metrics := observability.NewMetrics()
//
//	// Logging - configurable output, level, format
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:          cfg.Logging.Level,
//	    Format:         cfg.Logging.Format,
//	    AddSource:      cfg.Logging.AddSource,
//	    RedactPatterns: cfg.Logging.Redact,
//	})
//
//	// Tracing - only constructed when cfg.Tracing.Enabled
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "relayd",
//	    Endpoint:    cfg.Tracing.OTLPEndpoint,
//	})
//	defer shutdown(context.Background())
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with a no-op exporter (empty Endpoint) in tests
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Background task throughput
//	rate(relayd_background_tasks_launched_total[5m])
//
//	# Recovery outcome mix
//	sum by (outcome) (rate(relayd_recovery_attempts_total[5m]))
//
//	# Tokens reclaimed per pruning strategy
//	rate(relayd_pruning_tokens_saved_total[5m])
//
//	# Queue depth by concurrency key
//	relayd_background_queue_depth
package observability
