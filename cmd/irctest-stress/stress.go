// irctest-stress opens many raw connections to an IRC server, each sending
// only the registration burst, and reports how many the server accepted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/robustirc/irctest/internal/config"
	"github.com/robustirc/irctest/internal/stress"

	"github.com/armon/go-metrics"
	metrics_prometheus "github.com/armon/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/stapelberg/glog"
)

var (
	connections = flag.Int("connections",
		0,
		"Number of connections to open. Defaults to StressConnections from the configuration (100).")

	metricsFile = flag.String("metrics_file",
		"",
		"If non-empty, path to which the metrics are written in the prometheus text format after the run.")

	listen = flag.String("listen",
		"",
		"If non-empty, [host]:port on which /metrics is served while the run is in progress.")

	minConnected = flag.Int("min_connected",
		0,
		"Exit with a non-zero status if fewer connections than this succeed.")
)

func dumpMetrics(path string) error {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return err
		}
	}
	return f.Close()
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
	n := *connections
	if n <= 0 {
		n = cfg.StressConnections
	}

	sink, err := metrics_prometheus.NewPrometheusSink()
	if err != nil {
		log.Fatal(err)
	}
	metrics.NewGlobal(metrics.DefaultConfig("irctest"), sink)

	if *listen != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*listen, nil); err != nil {
				glog.Errorf("serving /metrics: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	res := stress.Connect(ctx, cfg, n)
	for _, err := range res.Errors {
		glog.Warning(err)
	}
	fmt.Println(res)

	if *metricsFile != "" {
		if err := dumpMetrics(*metricsFile); err != nil {
			glog.Errorf("Writing -metrics_file: %v", err)
			os.Exit(1)
		}
	}
	if res.Connected < *minConnected {
		glog.Errorf("Only %d connections succeeded, -min_connected=%d", res.Connected, *minConnected)
		glog.Flush()
		os.Exit(1)
	}
}
