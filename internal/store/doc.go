// Package store implements the persistent state container used for every
// start-page data domain (shortcuts, theme, outbound events).
//
// A Store keeps one logical value in memory and mirrors it into a kv.Storage
// under a single key. Loading happens once through Initialize and degrades
// to the default value on any read, parse or schema failure, leaving the
// stored entry untouched. Writes are coalesced: every SetData restarts a
// timer owned by the store and only the last value inside the window is
// serialised. Sequence values are bounded by MaxItems; loading keeps the
// first MaxItems elements, writing keeps the last MaxItems.
//
// Lifecycle hooks of the owning component call Initialize on start and
// Close on teardown; Close commits any pending write synchronously.
package store
