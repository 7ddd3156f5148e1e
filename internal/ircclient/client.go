// Package ircclient implements the protocol-driven test client: one TCP
// connection to the IRC server under test, line-based sending and bounded
// waiting for specific replies.
//
// A Client is meant to be driven by a single goroutine (the test scenario).
// Internally, one goroutine per connection reads from the socket and queues
// the received chunks; all buffering and matching happens on the caller's
// goroutine, so no locking is required.
package ircclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/robustirc/irctest/internal/config"
	"github.com/robustirc/irctest/internal/linebuf"

	"github.com/armon/go-metrics"
	"github.com/stapelberg/glog"
	"gopkg.in/sorcix/irc.v2"
)

// ErrNotConnected is returned by Send before Connect succeeded or after
// Close.
var ErrNotConnected = errors.New("not connected")

const readSize = 4096

type Client struct {
	Nick     string
	User     string
	Realname string

	cfg  config.Target
	conn net.Conn

	// chunks is fed by readLoop and closed when the connection breaks. It is
	// set to nil once the closure has been observed.
	chunks chan []byte
	done   chan struct{}
	buf    linebuf.Buffer

	closeOnce sync.Once
	closed    bool
}

// New returns an unconnected client. nick is used as-is, without checking
// whether it is a valid IRC nickname.
func New(cfg config.Target, nick, user string) *Client {
	realname := cfg.Realname
	if realname == "" {
		realname = config.DefaultConfig.Realname
	}
	return &Client{
		Nick:     nick,
		User:     user,
		Realname: realname,
		cfg:      cfg,
	}
}

// Connect dials the server and sends the PASS, NICK and USER registration
// lines. It does not wait for RPL_WELCOME; use WaitFor("001") for that.
//
// Errors are not retried: a server which refuses connections invalidates
// the whole scenario.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return fmt.Errorf("%s: already connected", c.Nick)
	}
	if c.closed {
		return fmt.Errorf("%s: client already closed", c.Nick)
	}
	conn, err := Dial(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("%s: connecting to %s: %w", c.Nick, c.cfg.Addr(), err)
	}
	glog.Infof("%s: connected to %s (local %s)", c.Nick, conn.RemoteAddr(), conn.LocalAddr())
	c.conn = conn
	c.chunks = make(chan []byte, 64)
	c.done = make(chan struct{})
	go readLoop(c.Nick, conn, c.chunks, c.done)

	for _, line := range RegistrationBurst(c.cfg.Password, c.Nick, c.User, c.Realname) {
		if err := c.Send(line); err != nil {
			return fmt.Errorf("%s: registering: %w", c.Nick, err)
		}
	}
	return nil
}

func readLoop(nick string, conn net.Conn, chunks chan<- []byte, done <-chan struct{}) {
	defer close(chunks)
	for {
		b := make([]byte, readSize)
		n, err := conn.Read(b)
		if n > 0 {
			bytesReceived.Add(float64(n))
			select {
			case chunks <- b[:n]:
			case <-done:
				return
			}
		}
		if err != nil {
			glog.V(1).Infof("%s: read loop done: %v", nick, err)
			return
		}
	}
}

// Send appends CRLF to line and writes it to the server. The line is sent
// verbatim: deliberately malformed input is how error replies are provoked.
//
// A write error is logged and returned, but leaves the client usable for
// WaitFor, which will then report the missing reply.
func (c *Client) Send(line string) error {
	if c.conn == nil || c.closed {
		linesSent.WithLabelValues("failed").Inc()
		return ErrNotConnected
	}
	glog.V(2).Infof("%s -> %q", c.Nick, line)
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		linesSent.WithLabelValues("failed").Inc()
		glog.Warningf("%s: sending %q: %v", c.Nick, line, err)
		return err
	}
	linesSent.WithLabelValues("ok").Inc()
	return nil
}

// Sendf is like Send, but formats the line with fmt.Sprintf.
func (c *Client) Sendf(format string, args ...interface{}) error {
	return c.Send(fmt.Sprintf(format, args...))
}

func (c *Client) appendChunk(chunk []byte) {
	glog.V(2).Infof("%s <- %q", c.Nick, chunk)
	c.buf.Write(chunk)
}

// Receive makes one attempt at reading from the server, waiting at most for
// the configured read timeout. The newly read data is appended to the
// receive buffer and returned. An empty result means that no data arrived,
// either because the server did not send anything or because the connection
// is gone.
func (c *Client) Receive() string {
	if c.chunks == nil {
		return ""
	}
	timer := time.NewTimer(c.cfg.Timeouts.Read.Duration)
	defer timer.Stop()
	select {
	case chunk, ok := <-c.chunks:
		if !ok {
			c.chunks = nil
			return ""
		}
		c.appendChunk(chunk)
		return string(chunk)
	case <-timer.C:
		return ""
	}
}

// drain moves all chunks which are already queued into the buffer without
// blocking.
func (c *Client) drain() {
	for c.chunks != nil {
		select {
		case chunk, ok := <-c.chunks:
			if !ok {
				c.chunks = nil
				return
			}
			c.appendChunk(chunk)
		default:
			return
		}
	}
}

// WaitFor waits up to the configured WaitFor timeout for a line matching
// code, see WaitForTimeout.
func (c *Client) WaitFor(code string) (string, bool) {
	return c.WaitForTimeout(code, c.cfg.Timeouts.WaitFor.Duration)
}

// WaitForTimeout waits up to timeout for a complete line matching code,
// which is either a numeric reply ("001") or a command ("PART"). The first
// matching line in arrival order is removed from the buffer and returned.
//
// With the default substring match mode, a line matches when it contains
// " <code> ". With config.MatchCommand, only the parsed command field is
// compared.
//
// If no matching line arrives in time, WaitForTimeout returns "", false.
// That is a regular outcome, not an error.
func (c *Client) WaitForTimeout(code string, timeout time.Duration) (string, bool) {
	return c.WaitForFunc(c.matcher(code), timeout)
}

// WaitForMessage is like WaitForTimeout, but always matches the command field
// of the parsed line and returns the parsed message.
func (c *Client) WaitForMessage(command string, timeout time.Duration) (*irc.Message, bool) {
	line, ok := c.WaitForFunc(MatchCommand(command), timeout)
	if !ok {
		return nil, false
	}
	return irc.ParseMessage(line), true
}

func (c *Client) matcher(code string) func(string) bool {
	if c.cfg.Match == config.MatchCommand {
		return MatchCommand(code)
	}
	return linebuf.MatchToken(code)
}

// WaitForFunc waits up to timeout for a complete line for which match
// returns true. The line is removed from the buffer and returned.
func (c *Client) WaitForFunc(match func(line string) bool, timeout time.Duration) (string, bool) {
	defer metrics.MeasureSince([]string{"irctest", "client", "waitfor"}, time.Now())

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if line, ok := c.buf.Take(match); ok {
			waitForResults.WithLabelValues("found").Inc()
			return line, true
		}
		select {
		case chunk, ok := <-c.chunks:
			if !ok {
				// A nil channel blocks forever, leaving only the deadline.
				c.chunks = nil
				continue
			}
			c.appendChunk(chunk)

		case <-deadline.C:
			// Anything which arrived together with the deadline still counts.
			c.drain()
			if line, ok := c.buf.Take(match); ok {
				waitForResults.WithLabelValues("found").Inc()
				return line, true
			}
			waitForResults.WithLabelValues("absent").Inc()
			glog.V(1).Infof("%s: no matching line within %v, buffered: %q", c.Nick, timeout, c.buf.Lines())
			return "", false
		}
	}
}

// MatchCommand returns a match function which parses each line as an IRC
// message and compares its command (case-insensitively) to command. Message
// bodies are never looked at.
func MatchCommand(command string) func(string) bool {
	return func(line string) bool {
		msg := irc.ParseMessage(line)
		if msg == nil {
			return false
		}
		return strings.EqualFold(msg.Command, command)
	}
}

// Lines returns the complete lines which are buffered, but were not consumed
// by WaitFor yet. Useful for explaining why an expectation failed.
func (c *Client) Lines() []string {
	c.drain()
	return c.buf.Lines()
}

// Connected reports whether Connect succeeded and Close was not called yet.
func (c *Client) Connected() bool {
	return c.conn != nil && !c.closed
}

// Close releases the connection. It is safe to call Close multiple times and
// on clients which never connected. Errors are logged, never returned, so
// that teardown cannot mask an earlier test failure.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed = true
		if c.conn == nil {
			return
		}
		close(c.done)
		if err := c.conn.Close(); err != nil {
			glog.Warningf("%s: closing connection: %v", c.Nick, err)
			return
		}
		glog.V(1).Infof("%s: connection closed", c.Nick)
	})
}
