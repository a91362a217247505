// Package sizecache keeps recursive directory-size mappings produced by du
// scans, keyed by the normalized scan root. Records expire lazily against an
// injected clock, lookups pick the most specific covering root so narrower
// re-scans shadow wider ones, and invalidation removes every record whose
// root sits on either side of a mutated path. The store never persists across
// process restarts; the materializer re-scans on demand.
package sizecache
