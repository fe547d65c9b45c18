// Package api holds the public types of sagaflow: the event envelope,
// content-based routes, workflow definitions and executions, the task
// executor contract, the error taxonomy, and the Observer used for
// logging and metrics.
//
// Application code normally imports the root sagaflow package, which
// re-exports everything here; api exists so that internal packages and
// external tooling can share one set of types without import cycles.
package api
