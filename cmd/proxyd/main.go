// Command proxyd runs the proxy against a single XML config file, matching
// the original binary's single command-line argument: a config path.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/TigerZhang/onecache/config"
	"github.com/TigerZhang/onecache/logging"
	"github.com/TigerZhang/onecache/metrics"
	"github.com/TigerZhang/onecache/proxy"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9121", "address to serve /metrics on")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: proxyd [-metrics-addr addr] <config-path>")
		os.Exit(1)
	}
	configPath := flag.Arg(0)

	log := logging.New()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logging.SetLevel(log, "info")

	reg := metrics.NewRegistry()
	if err := reg.Serve(*metricsAddr); err != nil {
		log.WithError(err).Fatal("failed to start metrics server")
	}

	srv, err := proxy.New(cfg, log, reg)
	if err != nil {
		log.WithError(err).Fatal("failed to build proxy")
	}

	watcher, err := config.NewWatcher(cfg, log.WithField("component", "config-watcher"), nil)
	if err != nil {
		log.WithError(err).Warn("config watcher unavailable, edits to the config file will not be logged")
	} else {
		go watcher.Run()
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	log.WithField("port", cfg.Port).Info("starting proxy")
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("proxy stopped with error")
	}
}
