// Package cache owns the versioned response cache used by the request
// interceptor. A Storage holds named generations ("cache-<version>"); each
// Generation maps a request identity (method + URL) to the most recently
// stored response. The filesystem backend lays generations out as
// StoragePath/<generation>/<sha1(identity)>.{body,meta} and writes through a
// temp file + rename; the SQLite backend keeps the same mapping in two tables.
// Exactly one generation is current at a time, the interceptor deletes the
// others on activation through Names/Delete.
package cache
