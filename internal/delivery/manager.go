package delivery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	logx "searchalert/pkg/logx"
)

type Outcome string

const (
	Sent   Outcome = "sent"
	Failed Outcome = "failed"
)

// Attempt records one call to Transport.Send.
type Attempt struct {
	Ordinal int
	To      string
	Outcome Outcome
	Err     error
	Took    time.Duration
}

// Receipt lists the attempts made for one message, in order.
type Receipt struct {
	Attempts []Attempt
}

func (r Receipt) Sent() bool {
	n := len(r.Attempts)
	return n > 0 && r.Attempts[n-1].Outcome == Sent
}

// Resets is the number of connection resets performed between attempts.
func (r Receipt) Resets() int {
	if len(r.Attempts) < 2 {
		return 0
	}
	return len(r.Attempts) - 1
}

// FailedError is returned when delivery to To failed on every attempt.
// Err is the cause reported by the last attempt.
type FailedError struct {
	To       string
	Attempts int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("delivery to %s failed after %d attempt(s): %v", e.To, e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Policy delivers a single message.
type Policy interface {
	Deliver(ctx context.Context, msg Message) (Receipt, error)
}

type Option func(*options)

type options struct {
	log         logx.Logger
	limiter     *rate.Limiter
	sendTimeout time.Duration
}

func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = l } }

// WithLimiter makes every attempt wait for a token before calling Send.
func WithLimiter(l *rate.Limiter) Option { return func(o *options) { o.limiter = l } }

// WithSendTimeout bounds each Send call. Zero means only ctx applies.
func WithSendTimeout(d time.Duration) Option { return func(o *options) { o.sendTimeout = d } }

func buildOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return o
}

// BoundedRetry sends once and, if that fails, resets the transport connection
// and sends exactly once more. It never sleeps between the two attempts.
type BoundedRetry struct {
	transport Transport
	opts      options
}

func NewBoundedRetry(t Transport, opts ...Option) *BoundedRetry {
	return &BoundedRetry{transport: t, opts: buildOptions(opts)}
}

func (b *BoundedRetry) Deliver(ctx context.Context, msg Message) (Receipt, error) {
	to := msg.To.Address
	log := b.opts.log.With(logx.String("to", to))

	var rc Receipt
	err := attempt(ctx, b.transport, b.opts, 1, msg, &rc)
	if err == nil {
		return rc, nil
	}

	log.Warn("initial send failed; resetting connection and retrying", logx.Err(err))
	b.transport.ResetConnection()

	err = attempt(ctx, b.transport, b.opts, 2, msg, &rc)
	if err == nil {
		log.Debug("retry succeeded")
		return rc, nil
	}
	log.Error("failed to send message", logx.Err(err))
	return rc, &FailedError{To: to, Attempts: len(rc.Attempts), Err: err}
}

// SingleAttempt sends once and never resets the connection.
type SingleAttempt struct {
	transport Transport
	opts      options
}

func NewSingleAttempt(t Transport, opts ...Option) *SingleAttempt {
	return &SingleAttempt{transport: t, opts: buildOptions(opts)}
}

func (s *SingleAttempt) Deliver(ctx context.Context, msg Message) (Receipt, error) {
	var rc Receipt
	if err := attempt(ctx, s.transport, s.opts, 1, msg, &rc); err != nil {
		s.opts.log.Error("failed to send message", logx.String("to", msg.To.Address), logx.Err(err))
		return rc, &FailedError{To: msg.To.Address, Attempts: 1, Err: err}
	}
	return rc, nil
}

func attempt(ctx context.Context, t Transport, o options, ordinal int, msg Message, rc *Receipt) error {
	start := time.Now()
	err := send(ctx, t, o, msg)
	a := Attempt{Ordinal: ordinal, To: msg.To.Address, Outcome: Sent, Took: time.Since(start)}
	if err != nil {
		a.Outcome = Failed
		a.Err = err
	}
	rc.Attempts = append(rc.Attempts, a)
	return err
}

func send(ctx context.Context, t Transport, o options, msg Message) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if o.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.sendTimeout)
		defer cancel()
	}
	return t.Send(ctx, msg)
}
