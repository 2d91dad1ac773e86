package alert

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"searchalert/internal/delivery"
	"searchalert/internal/search"
	"searchalert/internal/window"
)

// Digest is everything a Renderer may put into an alert email.
type Digest struct {
	SiteTitle  string
	SearchName string
	Recipient  delivery.Mailbox
	Records    []search.Record
	Window     window.Window
	// Link opens the search restricted to the window.
	Link string
}

// Renderer turns a digest into the subject and plain-text body of an email.
type Renderer interface {
	Render(d Digest) (subject, body string, err error)
}

// TextRenderer is the built-in plain-text renderer.
type TextRenderer struct {
	// TitleField is the record field listed per result; "title" when empty.
	TitleField string
	Locale     language.Tag
}

// NewTextRenderer parses locale as a BCP 47 tag; an empty or unknown locale
// falls back to English.
func NewTextRenderer(titleField, locale string) TextRenderer {
	tag := language.English
	if l := strings.TrimSpace(locale); l != "" {
		if t, err := language.Parse(l); err == nil {
			tag = t
		}
	}
	return TextRenderer{TitleField: titleField, Locale: tag}
}

func (r TextRenderer) Render(d Digest) (string, string, error) {
	site := strings.TrimSpace(d.SiteTitle)
	if site == "" {
		site = "Library"
	}
	field := r.TitleField
	if field == "" {
		field = "title"
	}
	tag := r.Locale
	if tag == language.Und {
		tag = language.English
	}
	p := message.NewPrinter(tag)

	var b strings.Builder
	if d.SearchName != "" {
		p.Fprintf(&b, "Saved search: %s\n", d.SearchName)
	}
	p.Fprintf(&b, "New results: %d\n\n", len(d.Records))
	for i, rec := range d.Records {
		title, ok := rec.Value(field)
		if !ok || strings.TrimSpace(title) == "" {
			title = rec.ID()
		}
		p.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(title))
	}
	if d.Link != "" {
		b.WriteString("\nView all results:\n")
		b.WriteString(d.Link)
		b.WriteString("\n")
	}
	return site + ": Scheduled Alert Results", b.String(), nil
}
