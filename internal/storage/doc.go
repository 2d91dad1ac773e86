// Package storage persists alert subscriptions and the evaluation audit log.
//
// It supports:
//   - Listing subscriptions and advancing their last-notification time
//   - Audit log appends (one entry per evaluated subscription)
package storage
