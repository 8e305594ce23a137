package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() MessageSpec {
	return MessageSpec{
		From:        "Reports <reports@example.com>",
		To:          []string{"ops@example.com", "sales@example.com"},
		Subject:     "Active accounts",
		Text:        "Active accounts\n\nPlease see attached CSV file.",
		HTML:        "<html><body><p>report</p></body></html>",
		CSV:         []byte("\"_id\"\n\"1\"\n"),
		CSVFilename: "results.csv",
	}
}

func TestBuild(t *testing.T) {
	msg, err := Build(testSpec())
	require.NoError(t, err)

	raw, err := msg.Bytes()
	require.NoError(t, err)
	s := string(raw)

	assert.Contains(t, s, "Subject: Active accounts")
	assert.Contains(t, s, "ops@example.com")
	assert.Contains(t, s, "sales@example.com")
	assert.Contains(t, s, "multipart/mixed")
	assert.Contains(t, s, "multipart/alternative")
	assert.Contains(t, s, "text/plain")
	assert.Contains(t, s, "text/html")
	assert.Contains(t, s, `filename="results.csv"`)
	assert.Contains(t, s, base64.StdEncoding.EncodeToString([]byte("\"_id\"\n\"1\"\n")))

	csv, name := msg.Attachment()
	assert.Equal(t, "results.csv", name)
	assert.Equal(t, "\"_id\"\n\"1\"\n", string(csv))
}

func TestBuildWithoutAttachment(t *testing.T) {
	spec := testSpec()
	spec.CSV = nil

	msg, err := Build(spec)
	require.NoError(t, err)

	raw, err := msg.Bytes()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "results.csv")

	csv, _ := msg.Attachment()
	assert.Nil(t, csv)
}

func TestBuildRequiresAddresses(t *testing.T) {
	spec := testSpec()
	spec.From = ""
	_, err := Build(spec)
	assert.Error(t, err)

	spec = testSpec()
	spec.To = nil
	_, err = Build(spec)
	assert.Error(t, err)
}

func TestDrySender(t *testing.T) {
	msg, err := Build(testSpec())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, (&DrySender{Out: &out}).Send(context.Background(), msg))

	s := out.String()
	assert.Contains(t, s, "Subject: Active accounts")
	assert.Contains(t, s, "To: ops@example.com, sales@example.com")
	assert.Contains(t, s, "<p>report</p>")
	assert.Contains(t, s, "--- attachment: results.csv ---\n\"_id\"\n\"1\"\n")
}

func TestDrySenderRaw(t *testing.T) {
	msg, err := Build(testSpec())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, (&DrySender{Out: &out, Raw: true}).Send(context.Background(), msg))
	assert.Contains(t, out.String(), "multipart/mixed")
}

// fakeSMTP is a minimal relay that records each session
type fakeSMTP struct {
	ln     net.Listener
	reject string

	mu       sync.Mutex
	sessions int
	helo     string
	from     string
	rcpts    []string
	data     []byte
	quit     bool
	done     chan struct{}
}

func newFakeSMTP(t *testing.T, reject string) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeSMTP{ln: ln, reject: reject, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })

	go func() {
		defer close(f.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.sessions++
		f.mu.Unlock()
		f.serve(conn)
	}()
	return f
}

func (f *fakeSMTP) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) serve(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake.relay ESMTP")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])

		f.mu.Lock()
		switch verb {
		case "EHLO", "HELO":
			f.helo = strings.TrimSpace(line[len(verb):])
			_ = tp.PrintfLine("250 fake.relay")
		case "MAIL":
			f.from = line
			_ = tp.PrintfLine("250 OK")
		case "RCPT":
			if f.reject != "" && strings.Contains(line, f.reject) {
				_ = tp.PrintfLine("550 no such user")
				break
			}
			f.rcpts = append(f.rcpts, line)
			_ = tp.PrintfLine("250 OK")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			f.mu.Unlock()
			data, err := tp.ReadDotBytes()
			f.mu.Lock()
			if err != nil {
				f.mu.Unlock()
				return
			}
			f.data = data
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			f.quit = true
			_ = tp.PrintfLine("221 bye")
			f.mu.Unlock()
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
		f.mu.Unlock()
	}
}

func (f *fakeSMTP) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("fake smtp session did not finish")
	}
}

func TestSMTPSender(t *testing.T) {
	relay := newFakeSMTP(t, "")
	msg, err := Build(testSpec())
	require.NoError(t, err)

	sender := NewSMTPSender("127.0.0.1", relay.port(), "reports.example.com", 5*time.Second)
	require.NoError(t, sender.Send(context.Background(), msg))
	relay.wait(t)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, 1, relay.sessions)
	assert.Equal(t, "reports.example.com", relay.helo)
	assert.Contains(t, relay.from, "<reports@example.com>")
	require.Len(t, relay.rcpts, 2)
	assert.Contains(t, relay.rcpts[0], "<ops@example.com>")
	assert.Contains(t, relay.rcpts[1], "<sales@example.com>")
	assert.Contains(t, string(relay.data), "Subject: Active accounts")
	assert.True(t, relay.quit)
}

func TestSMTPSenderRejectedRecipient(t *testing.T) {
	relay := newFakeSMTP(t, "sales@example.com")
	msg, err := Build(testSpec())
	require.NoError(t, err)

	err = NewSMTPSender("127.0.0.1", relay.port(), "", 5*time.Second).Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RCPT TO sales@example.com")
	relay.wait(t)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Nil(t, relay.data, "nothing may be sent after a rejected recipient")
}

func TestSMTPSenderConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	msg, err := Build(testSpec())
	require.NoError(t, err)

	err = NewSMTPSender("127.0.0.1", port, "", time.Second).Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to 127.0.0.1:"+strconv.Itoa(port))
}
