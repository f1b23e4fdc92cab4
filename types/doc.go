// Copyright (c) JobFlow Authors.
// Licensed under the MIT License.

// Package types defines the shared data model of the orchestrator: agent
// request/response envelopes, task priorities, and the structured error
// type used across package boundaries.
package types
