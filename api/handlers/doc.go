// Copyright (c) JobFlow Authors.
// Licensed under the MIT License.

/*
Package handlers implements the request handlers for the orchestrator's
HTTP API.

# Overview

The package covers task submission and status, workflow launch, execution
polling and cancellation, per-agent health derived from circuit breaker
state, and the liveness/readiness probes. All handlers follow the standard
net/http interface; the shared response envelope and error mapping live in
common.go.
*/
package handlers
