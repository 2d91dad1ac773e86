package delivery

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"
)

// Mailbox is an address with an optional display name.
type Mailbox struct {
	Name    string
	Address string
}

// ParseMailbox accepts "user@example.org" or "Name <user@example.org>".
func ParseMailbox(s string) (Mailbox, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Mailbox{}, fmt.Errorf("invalid mailbox %q: %w", s, err)
	}
	return Mailbox{Name: a.Name, Address: a.Address}, nil
}

func (m Mailbox) IsZero() bool { return strings.TrimSpace(m.Address) == "" }

func (m Mailbox) String() string {
	return (&mail.Address{Name: m.Name, Address: m.Address}).String()
}

func (m Mailbox) domain() string {
	if i := strings.LastIndexByte(m.Address, '@'); i >= 0 && i < len(m.Address)-1 {
		return m.Address[i+1:]
	}
	return "localhost"
}

// Message is a rendered digest ready for transport.
type Message struct {
	From    Mailbox
	To      Mailbox
	Subject string
	Body    string
}

// Encode renders msg as an RFC 5322 message with a quoted-printable UTF-8
// text body. Lines end in CRLF.
func (m Message) Encode(date time.Time, messageID string) ([]byte, error) {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", m.From.String())
	header("To", m.To.String())
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", date.Format(time.RFC1123Z))
	if messageID != "" {
		header("Message-ID", "<"+messageID+"@"+m.From.domain()+">")
	}
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	header("Content-Transfer-Encoding", "quoted-printable")
	b.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&b)
	if _, err := qp.Write([]byte(m.Body)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
