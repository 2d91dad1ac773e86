package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "tls"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      TLSMode
	// HELO overrides the name sent in EHLO (default "localhost").
	HELO               string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// SMTPTransport keeps one SMTP connection open across messages.
//
// The connection is owned under mu for a whole mail transaction, so
// ResetConnection waits for an in-flight Send instead of closing it underneath.
type SMTPTransport struct {
	cfg  SMTPConfig
	addr string
	now  func() time.Time

	mu     sync.Mutex
	conn   net.Conn
	client *smtp.Client
	used   bool
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSNone
	}
	switch cfg.TLS {
	case TLSNone, TLSStartTLS, TLSImplicit:
	default:
		return nil, fmt.Errorf("smtp: unknown tls mode %q", cfg.TLS)
	}
	if cfg.Port <= 0 {
		switch cfg.TLS {
		case TLSImplicit:
			cfg.Port = 465
		case TLSStartTLS:
			cfg.Port = 587
		default:
			cfg.Port = 25
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPTransport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		now:  time.Now,
	}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if msg.From.IsZero() {
		return errors.New("smtp: sender address is empty")
	}
	if msg.To.IsZero() {
		return errors.New("smtp: recipient address is empty")
	}
	data, err := msg.Encode(t.now(), uuid.NewString())
	if err != nil {
		return fmt.Errorf("smtp: encode message: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.clientLocked(ctx)
	if err != nil {
		return err
	}
	t.setDeadlineLocked(ctx)
	t.used = true

	if err := c.Mail(msg.From.Address); err != nil {
		return fmt.Errorf("smtp: MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To.Address); err != nil {
		return fmt.Errorf("smtp: RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: end DATA: %w", err)
	}
	return nil
}

// ResetConnection closes the current connection, if any. The next Send dials
// a new one.
func (t *SMTPTransport) ResetConnection() {
	t.mu.Lock()
	t.closeLocked()
	t.mu.Unlock()
}

// Close sends QUIT on a best-effort basis and releases the connection.
func (t *SMTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	if t.conn != nil {
		_ = t.conn.SetDeadline(time.Now().Add(5 * time.Second))
	}
	err := t.client.Quit()
	t.closeLocked()
	return err
}

func (t *SMTPTransport) closeLocked() {
	if t.client != nil {
		_ = t.client.Close()
	} else if t.conn != nil {
		_ = t.conn.Close()
	}
	t.client = nil
	t.conn = nil
	t.used = false
}

func (t *SMTPTransport) setDeadlineLocked(ctx context.Context) {
	if t.conn == nil {
		return
	}
	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetDeadline(deadline)
}

func (t *SMTPTransport) clientLocked(ctx context.Context) (*smtp.Client, error) {
	if t.client != nil {
		if !t.used {
			return t.client, nil
		}
		t.setDeadlineLocked(ctx)
		if err := t.client.Reset(); err == nil {
			return t.client, nil
		}
		// Stale connection from a previous message; start over.
		t.closeLocked()
	}
	return t.dialLocked(ctx)
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         t.cfg.Host,
		InsecureSkipVerify: t.cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test relays
		MinVersion:         tls.VersionTLS12,
	}
}

func (t *SMTPTransport) dialLocked(ctx context.Context) (*smtp.Client, error) {
	d := net.Dialer{Timeout: t.cfg.Timeout}
	var (
		conn net.Conn
		err  error
	)
	if t.cfg.TLS == TLSImplicit {
		td := tls.Dialer{NetDialer: &d, Config: t.tlsConfig()}
		conn, err = td.DialContext(ctx, "tcp", t.addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", t.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", t.addr, err)
	}
	t.conn = conn
	t.setDeadlineLocked(ctx)

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		t.conn = nil
		return nil, fmt.Errorf("smtp: greeting: %w", err)
	}
	t.client = c

	fail := func(step string, err error) (*smtp.Client, error) {
		t.closeLocked()
		return nil, fmt.Errorf("smtp: %s: %w", step, err)
	}

	if h := strings.TrimSpace(t.cfg.HELO); h != "" {
		if err := c.Hello(h); err != nil {
			return fail("EHLO", err)
		}
	}
	if t.cfg.TLS == TLSStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fail("STARTTLS", errors.New("not supported by server"))
		}
		if err := c.StartTLS(t.tlsConfig()); err != nil {
			return fail("STARTTLS", err)
		}
	}
	if t.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return fail("AUTH", errors.New("not supported by server"))
		}
		if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			return fail("AUTH", err)
		}
	}
	return c, nil
}
