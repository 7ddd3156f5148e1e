package ircclient

import "github.com/prometheus/client_golang/prometheus"

var (
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "irctest",
			Subsystem: "client",
			Name:      "bytes_received_total",
			Help:      "Bytes read from IRC servers under test",
		},
	)

	linesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "irctest",
			Subsystem: "client",
			Name:      "lines_sent_total",
			Help:      "Lines written to IRC servers under test, partitioned by outcome",
		},
		[]string{"result"},
	)

	waitForResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "irctest",
			Subsystem: "client",
			Name:      "waitfor_total",
			Help:      "WaitFor calls, partitioned by whether a matching line arrived in time",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(bytesReceived)
	prometheus.MustRegister(linesSent)
	prometheus.MustRegister(waitForResults)
}
