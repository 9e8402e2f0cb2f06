// Package cache defines the disk-backed store responsible for translating
// artifact keys into StoragePath/<ecosystem>/<package>/<version>/<variant>
// files plus a JSON metadata sidecar. The store exposes read/write primitives
// with safe semantics (temp file + rename) so readers never observe a
// partially written artifact, and the Sweeper reclaims expired or over-budget
// entries on a fixed interval without consulting request traffic.
package cache
