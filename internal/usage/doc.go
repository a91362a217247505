// Package usage materializes one level of the size-annotated directory tree
// served to the visualization layer. It reuses the most specific covering
// scan from the sizecache, coalesces concurrent scans per root, degrades to
// an empty mapping when the external scan fails, and guards delete requests
// against a deny-list of system paths.
package usage
