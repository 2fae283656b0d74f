// Command kvd runs the key-value server: a single listening TCP socket
// speaking the length-prefixed argv protocol described in the wire package,
// served by one event-loop goroutine. See spec §6: no required arguments,
// exits non-zero on bind or listen failure.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/grafana-kv/kvd/modules/server"
	log "github.com/grafana-kv/kvd/pkg/util/log"
)

func main() {
	addr := flag.String("addr", ":3490", "address to listen on")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	printVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *printVersion {
		fmt.Println(version.Print("kvd"))
		os.Exit(0)
	}

	log.SetLevel(*logLevel)

	srv, err := server.New(*addr, prometheus.DefaultRegisterer)
	if err != nil {
		level.Error(log.Logger).Log("msg", "failed to start listener", "addr", *addr, "err", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	level.Info(log.Logger).Log("msg", "kvd listening", "addr", srv.Addr(), "version", version.Version)
	if err := srv.Run(stop); err != nil {
		level.Error(log.Logger).Log("msg", "event loop exited with error", "err", err)
		os.Exit(1)
	}
}
