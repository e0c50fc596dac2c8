// Package observability builds the service's zap logger and derives
// request-scoped loggers from a context.
package observability
