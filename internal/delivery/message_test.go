package delivery

import (
	"bytes"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMailbox(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Mailbox
		wantErr bool
	}{
		{in: "alerts@library.example", want: Mailbox{Address: "alerts@library.example"}},
		{in: " Library Alerts <alerts@library.example> ", want: Mailbox{Name: "Library Alerts", Address: "alerts@library.example"}},
		{in: "not an address", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseMailbox(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestMessageEncode(t *testing.T) {
	t.Parallel()
	msg := Message{
		From:    Mailbox{Name: "Bibliothèque", Address: "alerts@library.example"},
		To:      Mailbox{Address: "ada@example.org"},
		Subject: "Bibliothèque: Scheduled Alert Results",
		Body:    "Neue Treffer für \"Klima\":\n\n1. " + strings.Repeat("x", 120) + "\n",
	}
	date := time.Date(2021, 4, 16, 14, 0, 0, 0, time.UTC)

	raw, err := msg.Encode(date, "abc-123")
	require.NoError(t, err)
	require.NotContains(t, string(raw), "\n\n", "line endings must be CRLF")

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	require.Equal(t, msg.Subject, subject)

	require.Equal(t, "<abc-123@library.example>", parsed.Header.Get("Message-ID"))
	require.Equal(t, "quoted-printable", parsed.Header.Get("Content-Transfer-Encoding"))

	gotDate, err := parsed.Header.Date()
	require.NoError(t, err)
	require.True(t, gotDate.Equal(date))

	from, err := parsed.Header.AddressList("From")
	require.NoError(t, err)
	require.Equal(t, "Bibliothèque", from[0].Name)

	body, err := io.ReadAll(quotedprintable.NewReader(parsed.Body))
	require.NoError(t, err)
	require.Equal(t, msg.Body, strings.ReplaceAll(string(body), "\r\n", "\n"))
}
