package ircclient

import (
	"context"
	"fmt"
	"net"

	"github.com/robustirc/irctest/internal/config"

	"golang.org/x/net/proxy"
)

// Dial opens a TCP connection to the server configured in cfg, through
// cfg.SocksProxy if one is set.
func Dial(ctx context.Context, cfg config.Target) (net.Conn, error) {
	d := &net.Dialer{Timeout: cfg.Timeouts.Connect.Duration}
	if cfg.SocksProxy == "" {
		return d.DialContext(ctx, "tcp", cfg.Addr())
	}

	socks, err := proxy.SOCKS5("tcp", cfg.SocksProxy, nil, d)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 proxy %q: %w", cfg.SocksProxy, err)
	}
	if cd, ok := socks.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", cfg.Addr())
	}
	return socks.Dial("tcp", cfg.Addr())
}

// RegistrationBurst returns the PASS, NICK and USER lines (without CRLF) that
// register nick with the server.
func RegistrationBurst(password, nick, user, realname string) []string {
	return []string{
		fmt.Sprintf("PASS %s", password),
		fmt.Sprintf("NICK %s", nick),
		fmt.Sprintf("USER %s 0 * :%s", user, realname),
	}
}
