// Package observability provides logging and metrics support for the paper
// radar service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Components derive child loggers with a component field and enrich them with
// scan, task and candidate identifiers:
//
//	logger = observability.WithScanContext(logger, scanID, "timer")
//	logger = observability.LoggerFromContext(ctx, logger)
//
// # Metrics
//
//	metrics := observability.NewMetrics("paper_radar")
//	metrics.RecordScan("manual", elapsed.Seconds())
//	metrics.RecordCandidateRejected("kb_external_id")
//
// # Standard Fields
//
//   - scan_id: discovery scan identifier
//   - task_id: processing task identifier
//   - owner: user or key owning a task
//   - external_id: source-scoped paper identifier
//   - source: discovery source name (arxiv, huggingface, ...)
//
// All components are safe for concurrent use from multiple goroutines.
package observability
