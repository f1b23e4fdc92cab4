// Copyright (c) JobFlow Authors.
// Licensed under the MIT License.

/*
Package main is the executable entry point for the JobFlow orchestrator.

# Overview

cmd/orchestrator serves the orchestration HTTP API: task submission,
workflow launch and polling, agent health, and breaker administration. It
loads YAML configuration with environment overrides, logs through zap,
exposes Prometheus metrics on a separate port, and exports traces and
metrics over OTLP when telemetry is enabled.

# Core types

  - Server: wires collector, queue, breakers, dispatch, engine, and
    front door together and owns their lifecycle
  - Middleware: HTTP middleware signature func(http.Handler) http.Handler

# Behavior

  - Subcommands: serve, version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders, RequestLogger,
    MetricsMiddleware, OTelTracing, RateLimiter (per IP)
  - Graceful shutdown: signal, stop listeners, drain the workflow engine,
    close the queue, flush telemetry
  - Build injection: Version, BuildTime, GitCommit via ldflags
*/
package main
