// Package search is the notifier's view of the search backend.
//
// The notifier never builds queries of its own beyond sort, limit and one
// hidden range filter; everything else comes from the saved search as-is.
package search
