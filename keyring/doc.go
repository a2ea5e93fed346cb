// Package keyring maintains the process-wide cache of provider signing keys
// used to verify bearer tokens.
//
// The cache has two halves. A Store is the durable half: a single snapshot
// (kid -> PEM key material, plus the fetch timestamp) persisted in Redis, a
// file, or memory, replaced whole on every successful refresh. A Ring is the
// committed in-process view: readers resolve keys lock-free against the last
// committed snapshot and never block on a refresh in progress.
//
// A Refresher owns the write path. It collapses concurrent refresh requests
// into a single remote fetch, re-arms a periodic staleness check after every
// attempt, and on fetch failure leaves the previous snapshot committed so
// verification keeps working with the last known-good keys.
package keyring
