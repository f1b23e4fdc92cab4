// Package config loads orchestrator configuration from defaults, an
// optional YAML file, and environment variable overrides, in that order of
// precedence. Environment keys follow ORCHESTRATOR_<SECTION>_<FIELD>.
package config
