// Package scan runs the external whole-subtree size scan (du) and parses its
// newline-delimited `<sizeKB>\t<path>` stream incrementally into a
// sizecache.SizeMapping. The runner enforces a hard timeout, throttles
// progress callbacks, and classifies failures so the materializer can decide
// when to retry in directories-only mode. stderr is diagnostic only and is
// never parsed.
package scan
