// Package session owns worker<->collector session helpers.
//
// Ownership boundary:
// - hello/hello ack control lines exchanged before any frame
// - fragment, failure and relay frame codecs
// - timeout and dial backoff configuration
package session
