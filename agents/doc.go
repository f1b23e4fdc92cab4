// Package agents is the dispatch layer between the workflow engine and the
// downstream capability providers. It resolves (agent, action) pairs against
// a static route table, attaches correlation and user context, applies the
// effective per-call timeout, and executes every call through the agent's
// circuit breaker.
package agents
