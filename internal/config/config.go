// Package config contains the configuration of an irctest run: which IRC
// server to test and how patiently to wait for it.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// PasswordEnv is consulted when neither the configuration file nor a flag
// specify a registration password.
const PasswordEnv = "IRCTEST_PASSWORD"

// Duration is a time.Duration which can be decoded from TOML strings such as
// "500ms" or "1.5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// MatchMode selects how WaitFor associates a server line with the code the
// caller is waiting for.
type MatchMode string

const (
	// MatchSubstring matches any line containing " <code> ". Message bodies
	// which happen to contain the padded token match, too.
	MatchSubstring MatchMode = "substring"

	// MatchCommand parses each line and only compares the command field.
	MatchCommand MatchMode = "command"
)

// Timeouts controls how long clients wait for the server.
type Timeouts struct {
	// Connect bounds establishing the TCP connection.
	Connect Duration

	// Read bounds a single receive attempt.
	Read Duration

	// WaitFor is the default deadline for a reply.
	WaitFor Duration
}

// Target is the IRC server under test, i.e. the top level.
type Target struct {
	Host     string
	Port     int
	Password string

	// Realname is sent as the last USER parameter during registration.
	Realname string

	// SocksProxy is an optional host:port of a SOCKS5 proxy through which
	// all connections are dialed.
	SocksProxy string

	Match MatchMode

	Timeouts Timeouts

	// StressConnections is the number of raw connections opened by the
	// stress scenario.
	StressConnections int
}

var DefaultConfig = Target{
	Host:     "127.0.0.1",
	Port:     6667,
	Password: "pass",
	Realname: "Realname",
	Match:    MatchSubstring,
	Timeouts: Timeouts{
		Connect: Duration{5 * time.Second},
		Read:    Duration{500 * time.Millisecond},
		WaitFor: Duration{1500 * time.Millisecond},
	},
	StressConnections: 100,
}

// Addr returns the host:port to dial.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// SetAddr splits addr into Host and Port.
func (t *Target) SetAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", port, err)
	}
	t.Host = host
	t.Port = p
	return nil
}

// Validate returns an error if t cannot be used to connect anywhere.
func (t Target) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("no host configured")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("port %d out of range", t.Port)
	}
	switch t.Match {
	case MatchSubstring, MatchCommand:
	default:
		return fmt.Errorf("unknown match mode %q", t.Match)
	}
	if t.Timeouts.Read.Duration <= 0 || t.Timeouts.WaitFor.Duration <= 0 {
		return fmt.Errorf("timeouts must be positive: %+v", t.Timeouts)
	}
	return nil
}

// FromString decodes TOML input on top of DefaultConfig, so that a
// configuration file only needs to list what differs.
func FromString(input string) (Target, error) {
	cfg := DefaultConfig
	if _, err := toml.Decode(input, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// FromFile is like FromString, but reads the TOML input from path.
func FromFile(path string) (Target, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig, err
	}
	cfg, err := FromString(string(b))
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (t *Target) applyEnv() {
	if pw := os.Getenv(PasswordEnv); pw != "" && t.Password == DefaultConfig.Password {
		t.Password = pw
	}
}
