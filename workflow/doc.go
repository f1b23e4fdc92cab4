// Copyright (c) JobFlow Authors.
// Licensed under the MIT License.

/*
Package workflow implements the orchestration core: the immutable workflow
definition catalogue and the dependency-driven execution engine.

A Definition is a DAG of steps, each bound to one downstream agent action.
Definitions are validated and registered once at process start; the Registry
rejects forward or self references at registration time, never at execution
time.

The Engine launches executions fire-and-continue: Start returns immediately
while a per-execution goroutine repeatedly computes the ready frontier of
the DAG, dispatches it concurrently through the agent dispatch client,
waits for the whole wave to settle, and folds the outcomes back into the
execution record. Optional steps may fail without failing the execution;
required failures escalate per the definition's error policy. An empty
frontier over an incomplete DAG is reported as a deadlock, never a hang.
*/
package workflow
