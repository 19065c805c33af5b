/*
Package log provides structured logging for the codehub control plane
using zerolog.

It wraps zerolog to give every coordinator a component-scoped logger
with consistent fields (workspace_id, op_id, coordinator) so log lines
can be correlated with the row they describe without repeating
boilerplate at each call site.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("control plane starting")

	wcLog := log.WithCoordinator("wc")
	wcLog.Info().Msg("reconcile tick")

	opLog := log.WithOpID(log.WithWorkspaceID(wcLog, ws.ID), *ws.OpID)
	opLog.Error().Err(err).Msg("execute failed")

# Context Logger Helpers

  - WithComponent: tag all logs with the emitting package
  - WithCoordinator: tag all logs with the coordinator name (ob/wc/ttl/gc/cdc)
  - WithWorkspaceID: enrich an existing logger with the workspace row being acted on
  - WithOpID: enrich an existing logger with the in-flight operation id

# Design

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at process start via log.Init()
  - Accessible from all packages without passing a logger around

Context Logger Pattern:
  - Create child loggers with With*() and pass them into coordinator ticks
  - Avoids repeating workspace_id/op_id at every call site

Structured Logging Pattern:
  - Typed fields (.Str, .Err) only, never string concatenation
  - Parseable by downstream log aggregation
*/
package log
