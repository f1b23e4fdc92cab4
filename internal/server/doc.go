// Package server manages the orchestrator's HTTP listeners: non-blocking
// start, asynchronous error reporting, and graceful shutdown.
package server
