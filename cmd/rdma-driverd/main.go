/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command rdma-driverd wires a config file, a log file, a prometheus metrics
// endpoint, the core transport engine, the verbs facade, and (when an
// interface is configured) a live software NIC into one running process,
// following the flag-parse-then-run shape of a daemon-style ingester
// (see e.g. fileFollow/main.go, diskmonitor/main.go).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/blue-rdma/rdma-driver/config"
	"github.com/blue-rdma/rdma-driver/core"
	"github.com/blue-rdma/rdma-driver/device"
	"github.com/blue-rdma/rdma-driver/log"
	"github.com/blue-rdma/rdma-driver/verbs"
)

var (
	configPath  = flag.String("config", "/etc/rdma-driverd.conf", "Path to the driver config file")
	iface       = flag.String("iface", "", "Network interface to bind the software NIC to (empty disables it)")
	metricsAddr = flag.String("metrics-addr", ":9400", "Address to serve /metrics on")
)

func main() {
	flag.Parse()

	cfg, err := config.GetConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdma-driverd: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdma-driverd: build logger: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	engine, err := core.NewEngine(cfg, logger, reg)
	if err != nil {
		logger.Critical("build engine: %v", err)
		os.Exit(1)
	}
	dev := verbs.Open(engine)
	dev.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Run(ctx)

	// g supervises every long-running goroutine the daemon owns (the metrics
	// server and, if bound, the nic receiver loop): the first one to return
	// an error cancels gctx, which unwinds the rest instead of leaving them
	// running orphaned after their sibling has already died.
	g, gctx := errgroup.WithContext(ctx)

	var nic *device.Nic
	if *iface != "" {
		nic, err = device.Open(*iface, cfg.Global.Card_Mac_Address, logger)
		if err != nil {
			logger.Critical("open nic %s: %v", *iface, err)
			cancel()
			os.Exit(1)
		}
		defer nic.Close()
		engine.SetFrameSink(nic)
		engine.StartSendPool(ctx, []core.DescriptorSink{nic})
		g.Go(func() error {
			device.NewReceiver(nic, engine, logger).Run(gctx)
			return nil
		})
		logger.Info("software nic bound to %s", *iface)
	} else {
		logger.Warn("no -iface given: running with no live NIC, ack/nak and rdma-write traffic will not reach the wire")
	}

	g.Go(func() error { return serveMetrics(gctx, *metricsAddr, reg, logger) })

	sch := make(chan os.Signal, 1)
	signal.Notify(sch, os.Interrupt)
	<-sch

	logger.Info("shutting down")
	cancel()
	engine.Stop()
	if err := g.Wait(); err != nil {
		logger.Error("supervised goroutine exited with error: %v", err)
	}
}

func buildLogger(cfg *config.CfgType) (*log.Logger, error) {
	if cfg.Global.Log_File == "" {
		return log.New(os.Stderr), nil
	}
	logger, err := log.NewFile(cfg.Global.Log_File)
	if err != nil {
		return nil, err
	}
	if cfg.Global.Log_Level != "" {
		if err := logger.SetLevelString(cfg.Global.Log_Level); err != nil {
			return nil, err
		}
	}
	return logger, nil
}

// serveMetrics runs the /metrics endpoint until ctx is cancelled, then shuts
// the server down gracefully; it returns nil on a clean shutdown and the
// underlying error otherwise, so its caller's errgroup can tell the two apart.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
