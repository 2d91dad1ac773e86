package alert

import (
	"context"
	"strings"
	"time"

	"searchalert/internal/eventbus"
	"searchalert/internal/storage"
	logx "searchalert/pkg/logx"
)

// AuditRecorder persists per-subscription events as audit entries.
type AuditRecorder struct {
	store storage.Store
	log   logx.Logger
}

func NewAuditRecorder(store storage.Store, log logx.Logger) *AuditRecorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AuditRecorder{store: store, log: log}
}

// Run consumes events until the channel is closed or ctx is done. Events
// already buffered when the channel is closed are still recorded.
func (r *AuditRecorder) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := r.Record(ctx, e); err != nil {
				r.log.Warn("failed to append audit entry", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

// Record writes one audit entry for a per-subscription event. Other events
// are ignored.
func (r *AuditRecorder) Record(ctx context.Context, e eventbus.Event) error {
	ev, ok := e.Data.(CheckedEvent)
	if !ok {
		return nil
	}
	res := ev.Result
	entry := storage.AuditEntry{
		At:             e.Time.UTC(),
		RunID:          ev.RunID,
		SubscriptionID: res.SubscriptionID,
		Action:         strings.TrimPrefix(e.Type, "alert."),
		Outcome:        string(res.Outcome),
		Records:        res.Records,
		TookMS:         res.Took.Milliseconds(),
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	return r.store.AppendAudit(ctx, entry)
}
