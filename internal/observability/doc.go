// Package observability builds the process logger and carries request-scoped
// log fields through contexts.
package observability
