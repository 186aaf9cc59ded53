// Command proxy is the CLI entrypoint: `proxy <port>`. One positional
// argument, no flags, no config file, no environment variables
// (spec.md §6) — unlike the teacher's main.go, which is entirely
// config-file and flag driven, this contract is load-bearing and is
// not inherited from the teacher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/omalloc/cellar/internal/acceptor"
	"github.com/omalloc/cellar/internal/cache"
	"github.com/omalloc/cellar/internal/logging"
	"github.com/omalloc/cellar/internal/metrics"
	"github.com/omalloc/cellar/internal/pipeline"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <port>\n", os.Args[0])
		os.Exit(1)
	}

	port, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: port must be numeric: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	log := logging.New(false)
	defer log.Sync()

	accessLog := logging.NewAccessLog("access.log")
	defer accessLog.Sync()

	// Mirrors the teacher's main.go init(): strip the default Go
	// runtime collector and re-register it under a namespaced prefix.
	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("cellar_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
	rec := metrics.New(registerer)

	store := cache.New(log, rec)
	pipe := pipeline.New(store, rec, log, accessLog, nil, metrics.NewRequestID)

	acc := acceptor.New(log, rec, pipe.Handle)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := acc.Start(ctx, port); err != nil {
		log.Fatalf("bind :%d: %v", port, err)
	}
	log.Infof("proxy listening on :%d", port)

	<-ctx.Done()
	log.Infof("shutting down")
	_ = acc.Stop(context.Background())
}
