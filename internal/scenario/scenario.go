// Package scenario owns the clients of one conformance scenario and
// guarantees that all of them are closed when the scenario ends, no matter
// which step failed.
package scenario

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/robustirc/irctest/internal/config"
	"github.com/robustirc/irctest/internal/ircclient"

	"github.com/stapelberg/glog"
)

// Pool is the lifecycle part of a Scenario without a testing.TB, for users
// outside of tests (e.g. the command line tools).
type Pool struct {
	cfg     config.Target
	clients []*ircclient.Client
}

// NewPool returns an empty pool whose clients connect to cfg.
func NewPool(cfg config.Target) *Pool {
	return &Pool{cfg: cfg}
}

// Config returns the target configuration shared by all clients.
func (p *Pool) Config() config.Target {
	return p.cfg
}

// Add connects a new client and, on success, takes ownership of it. A client
// which failed to connect is closed right away and not added.
func (p *Pool) Add(ctx context.Context, nick, user string) (*ircclient.Client, error) {
	c := ircclient.New(p.cfg, nick, user)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	p.clients = append(p.clients, c)
	return c, nil
}

// Clients returns the owned clients in the order they were added.
func (p *Pool) Clients() []*ircclient.Client {
	return append([]*ircclient.Client(nil), p.clients...)
}

// Close closes every owned client exactly once. Calling Close again is a
// no-op.
func (p *Pool) Close() {
	clients := p.clients
	p.clients = nil
	for _, c := range clients {
		c.Close()
	}
	if len(clients) > 0 {
		glog.V(1).Infof("closed %d clients", len(clients))
	}
}

// Scenario is a Pool bound to a test: connect failures fail the test, and
// the clients are torn down by t.Cleanup.
type Scenario struct {
	tb   testing.TB
	pool *Pool
}

// New returns a Scenario whose teardown is registered with tb.Cleanup.
func New(tb testing.TB, cfg config.Target) *Scenario {
	s := &Scenario{
		tb:   tb,
		pool: NewPool(cfg),
	}
	tb.Cleanup(s.Teardown)
	return s
}

// CreateClient connects and registers a new client with the given nickname
// and username. A connection failure aborts the test.
func (s *Scenario) CreateClient(nick, user string) *ircclient.Client {
	s.tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), s.pool.cfg.Timeouts.Connect.Duration+time.Second)
	defer cancel()
	c, err := s.pool.Add(ctx, nick, user)
	if err != nil {
		s.tb.Fatalf("CreateClient(%q): %v", nick, err)
	}
	return c
}

// CreateRegisteredClient is like CreateClient, but also waits for
// RPL_WELCOME.
func (s *Scenario) CreateRegisteredClient(nick, user string) *ircclient.Client {
	s.tb.Helper()
	c := s.CreateClient(nick, user)
	s.MustWaitFor(c, "001")
	return c
}

// Clients returns the scenario's clients in creation order.
func (s *Scenario) Clients() []*ircclient.Client {
	return s.pool.Clients()
}

// Teardown closes all clients. It runs automatically at the end of the test
// and may be called earlier.
func (s *Scenario) Teardown() {
	s.pool.Close()
}

// MustWaitFor fails the test unless c receives a line matching code within
// the configured WaitFor timeout. The matching line is returned.
func (s *Scenario) MustWaitFor(c *ircclient.Client, code string) string {
	s.tb.Helper()
	line, ok := c.WaitFor(code)
	if !ok {
		s.tb.Fatalf("%s: no %s within %v; unconsumed lines:\n%s",
			c.Nick, code, s.pool.cfg.Timeouts.WaitFor.Duration, strings.Join(c.Lines(), "\n"))
	}
	return line
}

// MustWaitForContaining is like MustWaitFor, but additionally requires the
// matching line to contain substr.
func (s *Scenario) MustWaitForContaining(c *ircclient.Client, code, substr string) string {
	s.tb.Helper()
	line := s.MustWaitFor(c, code)
	if !strings.Contains(line, substr) {
		s.tb.Fatalf("%s: %s line %q does not contain %q", c.Nick, code, line, substr)
	}
	return line
}

// Send sends line from c verbatim. Write errors are logged by the client and
// then show up as missing replies, so they are not checked here.
func (s *Scenario) Send(c *ircclient.Client, line string) {
	_ = c.Send(line)
}

// Sendf is like Send, but formats the line with fmt.Sprintf.
func (s *Scenario) Sendf(c *ircclient.Client, format string, args ...interface{}) {
	_ = c.Sendf(format, args...)
}

func (s *Scenario) String() string {
	return fmt.Sprintf("scenario(%s, %d clients)", s.pool.cfg.Addr(), len(s.pool.clients))
}
