// Package window decides which newly indexed records a saved search has
// produced since its last notification.
//
// All timestamps pass through an explicit Calendar; nothing in this package
// reads or changes the process-wide local time zone, so resolvers can run
// concurrently.
package window
