// irctest-fakeserver runs the fake IRC server which the conformance tests use
// by default as a standalone process. This is handy for trying irctest-probe
// and irctest-stress without a real IRC server.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/robustirc/irctest/internal/config"
	"github.com/robustirc/irctest/internal/ircfake"

	"github.com/stapelberg/glog"
)

var (
	listen = flag.String("listen",
		"localhost:6667",
		"[host]:port to listen on.")

	servername = flag.String("servername",
		"irctest.fake",
		"Name the server uses as prefix of its replies.")

	password = flag.String("password",
		config.DefaultConfig.Password,
		"Password which clients have to send with PASS. Empty means any password is accepted.")

	socksListen = flag.String("socks_listen",
		"",
		"If non-empty, [host]:port on which to additionally run a SOCKS5 relay.")
)

func main() {
	defer glog.Flush()
	glog.CopyStandardLogTo("INFO")
	flag.Parse()

	srv := ircfake.NewServer(*servername, *password)
	addr, err := srv.Listen(*listen)
	if err != nil {
		log.Fatal(err)
	}
	glog.Infof("Listening on %s", addr)

	if *socksListen != "" {
		relay, err := ircfake.ListenSOCKS(*socksListen)
		if err != nil {
			log.Fatal(err)
		}
		defer relay.Close()
		glog.Infof("SOCKS5 relay listening on %s", relay.Addr())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	glog.Infof("Shutting down, %d sessions connected", srv.NumSessions())
	srv.Close()
}
