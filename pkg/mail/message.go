package mail

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jordan-wright/email"
)

// MessageSpec describes one report email
type MessageSpec struct {
	From    string
	To      []string
	Subject string
	Text    string // plain-text fallback
	HTML    string // primary alternative

	// CSV is attached as CSVFilename when non-nil
	CSV         []byte
	CSVFilename string
}

// Message is a fully built MIME message
type Message struct {
	spec  MessageSpec
	email *email.Email
}

// Build assembles the MIME entity: text part, HTML alternative and the
// optional CSV attachment
func Build(spec MessageSpec) (*Message, error) {
	if spec.From == "" {
		return nil, errors.New("message has no sender")
	}
	if len(spec.To) == 0 {
		return nil, errors.New("message has no recipients")
	}

	e := email.NewEmail()
	e.From = spec.From
	e.To = append([]string(nil), spec.To...)
	e.Subject = spec.Subject
	e.Text = []byte(spec.Text)
	e.HTML = []byte(spec.HTML)

	if spec.CSV != nil {
		filename := spec.CSVFilename
		if filename == "" {
			filename = "results.csv"
		}
		if _, err := e.Attach(bytes.NewReader(spec.CSV), filename, "text/csv"); err != nil {
			return nil, fmt.Errorf("attaching %s: %w", filename, err)
		}
		spec.CSVFilename = filename
	}

	return &Message{spec: spec, email: e}, nil
}

// Bytes renders the message in wire format
func (m *Message) Bytes() ([]byte, error) {
	raw, err := m.email.Bytes()
	if err != nil {
		return nil, fmt.Errorf("rendering message: %w", err)
	}
	return raw, nil
}

// From returns the envelope sender
func (m *Message) From() string { return m.spec.From }

// To returns the envelope recipients
func (m *Message) To() []string { return append([]string(nil), m.spec.To...) }

// Subject returns the subject line
func (m *Message) Subject() string { return m.spec.Subject }

// HTML returns the HTML alternative
func (m *Message) HTML() string { return m.spec.HTML }

// Attachment returns the CSV attachment and its name, or nil if none
func (m *Message) Attachment() ([]byte, string) {
	if m.spec.CSV == nil {
		return nil, ""
	}
	return m.spec.CSV, m.spec.CSVFilename
}
