// irctest-probe registers a single client with an IRC server, sends the
// given lines and prints the replies it waits for. It is handy to find out
// what a server answers before writing a conformance scenario.
//
// Example:
//
//	irctest-probe -target=localhost:6667 -send='JOIN #test' -wait=366 -send='WHO #test' -wait=352,315
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/robustirc/irctest/internal/config"
	"github.com/robustirc/irctest/internal/scenario"

	"github.com/armon/go-metrics"
	metrics_prometheus "github.com/armon/go-metrics/prometheus"
	"github.com/stapelberg/glog"
)

var (
	nick = flag.String("nick",
		"irctest",
		"Nickname to register with.")

	user = flag.String("user",
		"irctest",
		"Username to register with.")

	dumpUnmatched = flag.Bool("dump_unmatched",
		false,
		"Print all buffered lines which no -wait consumed before exiting.")
)

// step is one -send or -wait flag, in command line order.
type step struct {
	send  string
	codes []string
}

// steps implements flag.Value so that -send and -wait can be interleaved.
type steps struct {
	list *[]step
	wait bool
}

func (s steps) String() string {
	if s.list == nil {
		return ""
	}
	return fmt.Sprint(*s.list)
}

func (s steps) Set(value string) error {
	if !s.wait {
		*s.list = append(*s.list, step{send: value})
		return nil
	}
	var codes []string
	for _, code := range strings.Split(value, ",") {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return fmt.Errorf("no codes in %q", value)
	}
	*s.list = append(*s.list, step{codes: codes})
	return nil
}

var script []step

func init() {
	flag.Var(steps{list: &script}, "send", "Line to send (without CRLF). May be repeated.")
	flag.Var(steps{list: &script, wait: true}, "wait", "Comma-separated reply codes or commands to wait for, in order. May be repeated.")
}

// run executes script and returns the number of codes which did not arrive.
func run(ctx context.Context, pool *scenario.Pool, script []step) (int, error) {
	c, err := pool.Add(ctx, *nick, *user)
	if err != nil {
		return 0, err
	}
	welcome, ok := c.WaitFor("001")
	if !ok {
		return 0, fmt.Errorf("%s: not welcomed by %s (no 001)", c.Nick, pool.Config().Addr())
	}
	fmt.Println(welcome)

	missing := 0
	for _, st := range script {
		if st.send != "" {
			if err := c.Send(st.send); err != nil {
				fmt.Printf("sending %q: %v\n", st.send, err)
			}
			continue
		}
		for _, code := range st.codes {
			line, ok := c.WaitFor(code)
			if !ok {
				fmt.Printf("%s: no reply within %v\n", code, pool.Config().Timeouts.WaitFor.Duration)
				missing++
				continue
			}
			fmt.Println(line)
		}
	}
	if *dumpUnmatched {
		for _, line := range c.Lines() {
			fmt.Printf("unmatched: %s\n", line)
		}
	}
	// The connection is closed right after, so a failed QUIT does not matter.
	_ = c.Send("QUIT :irctest-probe done")
	return missing, nil
}

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	defer glog.Flush()
	glog.CopyStandardLogTo("INFO")
	flag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		glog.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	sink, err := metrics_prometheus.NewPrometheusSink()
	if err != nil {
		log.Fatal(err)
	}
	metrics.NewGlobal(metrics.DefaultConfig("irctest"), sink)

	pool := scenario.NewPool(cfg)
	missing, err := run(context.Background(), pool, script)
	pool.Close()
	if err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
	if missing > 0 {
		glog.Errorf("%d expected replies did not arrive", missing)
		glog.Flush()
		os.Exit(2)
	}
}
