package delivery

import "context"

// Transport is the mail transport collaborator.
//
// ResetConnection drops whatever connection state the transport holds so the
// next Send starts from a fresh connection. It must not interrupt a Send that
// is in progress on another goroutine.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	ResetConnection()
}
