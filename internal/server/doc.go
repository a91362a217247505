// Package server exposes the size-cache engine over HTTP for the
// visualization layer: one-level usage trees, cache invalidation and clearing,
// guarded filesystem deletion, and per-request progress polling under the
// /-/ diagnostics prefix. Every request carries an X-Request-ID so an
// in-flight scan can be followed from a second connection.
package server
