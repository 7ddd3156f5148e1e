// Package stress opens many raw connections to the server under test in
// quick succession, each sending only the registration burst.
package stress

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robustirc/irctest/internal/config"
	"github.com/robustirc/irctest/internal/ircclient"

	"github.com/armon/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stapelberg/glog"
)

var connections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "irctest",
		Subsystem: "stress",
		Name:      "connections_total",
		Help:      "Stress connection attempts, partitioned by outcome",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(connections)
}

// Result summarizes a stress run. Failed attempts are data, not errors.
type Result struct {
	Attempted int
	Connected int

	// Errors holds one entry per failed attempt, in attempt order.
	Errors []error

	Duration time.Duration
}

func (r Result) String() string {
	return fmt.Sprintf("%d/%d connected, %d errors in %v", r.Connected, r.Attempted, len(r.Errors), r.Duration)
}

// Burst returns the registration burst of the i-th stress connection.
func Burst(password string, i int) string {
	lines := ircclient.RegistrationBurst(password, fmt.Sprintf("Bot%d", i), fmt.Sprintf("b%d", i), "b")
	return strings.Join(lines, "\r\n") + "\r\n"
}

// Connect opens n connections one after the other and sends each one's
// registration burst right away. Nothing is read from the server. All
// connections which were opened are closed before Connect returns.
//
// A cancelled ctx stops the run early; the remaining attempts are not made.
func Connect(ctx context.Context, cfg config.Target, n int) Result {
	start := time.Now()
	defer metrics.MeasureSince([]string{"irctest", "stress", "run"}, start)

	var res Result
	var conns []net.Conn
	defer func() { closeAll(conns) }()

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++
		conn, err := open(ctx, cfg, i)
		if err != nil {
			connections.WithLabelValues("failed").Inc()
			glog.V(1).Infof("stress connection %d: %v", i, err)
			res.Errors = append(res.Errors, fmt.Errorf("connection %d: %w", i, err))
			continue
		}
		connections.WithLabelValues("ok").Inc()
		res.Connected++
		conns = append(conns, conn)
	}
	res.Duration = time.Since(start)
	glog.Infof("stress against %s: %v", cfg.Addr(), res)
	return res
}

func open(ctx context.Context, cfg config.Target, i int) (net.Conn, error) {
	conn, err := ircclient.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(Burst(cfg.Password, i))); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// closeAll takes ownership of conns and closes each of them.
func closeAll(conns []net.Conn) {
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			glog.V(1).Infof("closing stress connection: %v", err)
		}
	}
}
