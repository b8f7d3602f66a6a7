// Command dhcpauthd serves DHCPv4 leases on one or more configured
// interfaces, per spec.md's full daemon description. Each interface runs
// its own worker goroutine. A config or worker startup error exits the
// process at once; after that, the process exits once every worker has
// stopped, or on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/haldane-systems/dhcpauthd/internal/config"
	"github.com/haldane-systems/dhcpauthd/internal/ifworker"
)

var logLevel slog.LevelVar

var confPath = flag.String("config", "dhcpauthd.toml", "Config path")

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	conf, err := config.Load(*confPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logLevel.Set(parseLogLevel(conf.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))

	workers := make([]*ifworker.Worker, 0, len(conf.Interfaces))
	for _, ifaceConf := range conf.Interfaces {
		w, err := ifworker.New(ifaceConf, conf.CacheDir, slog.Default())
		if err != nil {
			slog.Error("start interface worker", "iface", ifaceConf.Name, "err", err)
			os.Exit(1)
		}
		workers = append(workers, w)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				slog.Error("interface worker exited", "iface", w.Name, "err", err)
			}
		}()
	}

	allStopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(allStopped)
	}()

	select {
	case <-sig:
		slog.Info("shutting down")
	case <-allStopped:
		slog.Info("all interface workers stopped")
	}
	cancel()

	for _, w := range workers {
		if err := w.Close(); err != nil {
			slog.Warn("closing interface worker", "iface", w.Name, "err", err)
		}
	}

	wg.Wait()
}

func parseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
