// Command ipcanvas-service receives PingRecords from one or more
// ipcanvas-ping processes, maintains the shared canvas, and streams
// diffs to WebSocket subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fusetim/ipcanvas/internal/supervisor"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

type config struct {
	PingAddr    string
	WSAddr      string
	Width       uint16
	Height      uint16
	Tick        time.Duration
	MetricsAddr string
	Verbose     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()
	log := newLogger(cfg.Verbose)

	registry := prometheus.NewRegistry()
	diffsPublished := promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "ipcanvas_diffs_published_total",
		Help: "Number of non-empty canvas diffs published to the hub.",
	})
	pixelsPublished := promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "ipcanvas_diff_pixels_published_total",
		Help: "Total number of pixel updates published across all diffs.",
	})

	sup := supervisor.New(supervisor.Config{
		Logger:       log,
		PingAddr:     cfg.PingAddr,
		WSAddr:       cfg.WSAddr,
		Width:        cfg.Width,
		Height:       cfg.Height,
		TickInterval: cfg.Tick,
		OnDiffPublished: func(pixels int) {
			diffsPublished.Inc()
			pixelsPublished.Add(float64(pixels))
		},
	})

	promauto.With(registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ipcanvas_subscribers",
		Help: "Number of currently connected WebSocket subscribers.",
	}, func() float64 { return float64(sup.SubscriberCount()) })

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		log.Info("metrics listener started", "address", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	log.Info("service shutdown complete")
	return nil
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.PingAddr, "ping-addr", "0.0.0.0:7894", "address to accept PingRecord connections on")
	flag.StringVar(&cfg.WSAddr, "ws-addr", "0.0.0.0:7895", "address to serve WebSocket subscribers on")
	var width, height uint16
	flag.Uint16Var(&width, "width", 4096, "canvas width in pixels")
	flag.Uint16Var(&height, "height", 4096, "canvas height in pixels")
	flag.DurationVar(&cfg.Tick, "tick", 1*time.Second, "canvas diff publish interval")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "127.0.0.1:9100", "address to serve Prometheus /metrics on")
	flag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")
	flag.Parse()
	cfg.Width, cfg.Height = width, height
	return cfg
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}
