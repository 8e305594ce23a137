package mail

import (
	"context"
	"fmt"
	"io"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Sender delivers a built message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPSender delivers over a single plaintext SMTP session
type SMTPSender struct {
	Host     string
	Port     int
	HeloName string
	Timeout  time.Duration
}

// NewSMTPSender creates a sender for a relay
func NewSMTPSender(host string, port int, heloName string, timeout time.Duration) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, HeloName: heloName, Timeout: timeout}
}

// Send opens one session, sends EHLO, MAIL, RCPT for every recipient and DATA,
// then quits. Any rejected recipient aborts the whole send.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}

	from, err := envelopeAddress(msg.From())
	if err != nil {
		return err
	}
	rcpts := make([]string, 0, len(msg.To()))
	for _, to := range msg.To() {
		addr, err := envelopeAddress(to)
		if err != nil {
			return err
		}
		rcpts = append(rcpts, addr)
	}

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	dialer := net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if s.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.Timeout))
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting from %s: %w", addr, err)
	}
	defer c.Close()

	helo := s.HeloName
	if helo == "" {
		helo = "localhost"
	}
	if err := c.Hello(helo); err != nil {
		return fmt.Errorf("smtp EHLO: %w", err)
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM %s: %w", from, err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}

	if err := c.Quit(); err != nil {
		return fmt.Errorf("smtp QUIT: %w", err)
	}
	return nil
}

// envelopeAddress strips display names for the SMTP envelope
func envelopeAddress(s string) (string, error) {
	addr, err := netmail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr.Address, nil
}

// DrySender writes the would-be message to Out instead of sending it
type DrySender struct {
	Out io.Writer

	// Raw writes the full MIME message instead of the readable summary
	Raw bool
}

// Send never opens a network connection
func (d *DrySender) Send(_ context.Context, msg *Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	if d.Raw {
		_, err := d.Out.Write(raw)
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\nTo: %s\nSubject: %s\n\n", msg.From(), strings.Join(msg.To(), ", "), msg.Subject())
	sb.WriteString(msg.HTML())
	if csv, name := msg.Attachment(); csv != nil {
		fmt.Fprintf(&sb, "\n--- attachment: %s ---\n", name)
		sb.Write(csv)
	}

	_, err = io.WriteString(d.Out, sb.String())
	return err
}
