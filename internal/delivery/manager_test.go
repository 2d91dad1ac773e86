package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// scriptedTransport returns errs[i] for the i-th Send and nil once errs is exhausted.
type scriptedTransport struct {
	mu     sync.Mutex
	errs   []error
	sends  int
	resets int
	// events records "send" and "reset" in call order.
	events []string
}

func (s *scriptedTransport) Send(context.Context, Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "send")
	i := s.sends
	s.sends++
	if i < len(s.errs) {
		return s.errs[i]
	}
	return nil
}

func (s *scriptedTransport) ResetConnection() {
	s.mu.Lock()
	s.resets++
	s.events = append(s.events, "reset")
	s.mu.Unlock()
}

func testMessage() Message {
	return Message{
		From:    Mailbox{Address: "alerts@library.example"},
		To:      Mailbox{Name: "Ada", Address: "ada@example.org"},
		Subject: "Library: Scheduled Alert Results",
		Body:    "2 new results",
	}
}

func TestBoundedRetryFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}

	rc, err := NewBoundedRetry(tr).Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	require.True(t, rc.Sent())
	require.Len(t, rc.Attempts, 1)
	require.Equal(t, 0, rc.Resets())
	require.Equal(t, 0, tr.resets)
	require.Equal(t, []string{"send"}, tr.events)
}

func TestBoundedRetryRecoversAfterReset(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{errs: []error{errors.New("421 connection dropped")}}

	rc, err := NewBoundedRetry(tr).Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	require.True(t, rc.Sent())
	require.Equal(t, []string{"send", "reset", "send"}, tr.events)
	require.Equal(t, 1, rc.Resets())

	require.Len(t, rc.Attempts, 2)
	require.Equal(t, Failed, rc.Attempts[0].Outcome)
	require.EqualError(t, rc.Attempts[0].Err, "421 connection dropped")
	require.Equal(t, Sent, rc.Attempts[1].Outcome)
	require.Equal(t, 2, rc.Attempts[1].Ordinal)
	require.Equal(t, "ada@example.org", rc.Attempts[1].To)
}

func TestBoundedRetryReportsSecondCause(t *testing.T) {
	t.Parallel()
	first := errors.New("first failure")
	second := errors.New("second failure")
	tr := &scriptedTransport{errs: []error{first, second, errors.New("never reached")}}

	rc, err := NewBoundedRetry(tr).Deliver(context.Background(), testMessage())
	require.Error(t, err)
	require.False(t, rc.Sent())
	require.Equal(t, 2, tr.sends)
	require.Equal(t, 1, tr.resets)
	require.Equal(t, []string{"send", "reset", "send"}, tr.events)

	var fe *FailedError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "ada@example.org", fe.To)
	require.Equal(t, 2, fe.Attempts)
	require.ErrorIs(t, err, second)
	require.NotErrorIs(t, err, first)
}

func TestSingleAttemptNeverResets(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	tr := &scriptedTransport{errs: []error{cause}}

	rc, err := NewSingleAttempt(tr).Deliver(context.Background(), testMessage())
	require.ErrorIs(t, err, cause)
	require.Len(t, rc.Attempts, 1)
	require.Equal(t, 0, tr.resets)
	require.Equal(t, 1, tr.sends)
}

func TestBoundedRetryLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	// Empty bucket that never refills.
	lim := rate.NewLimiter(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc, err := NewBoundedRetry(tr, WithLimiter(lim)).Deliver(ctx, testMessage())
	require.Error(t, err)
	require.Equal(t, 0, tr.sends)
	require.Len(t, rc.Attempts, 2)

	var fe *FailedError
	require.ErrorAs(t, err, &fe)
}
