// Command ipcanvas-ping attaches the classifier to a network
// interface, keeps its prefix cell configured, and forwards every
// PingRecord the kernel emits to a running ipcanvas-service instance
// over a plain TCP connection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fusetim/ipcanvas/internal/prefix"
	"github.com/fusetim/ipcanvas/internal/queue"
	"github.com/fusetim/ipcanvas/internal/xdpprog"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type config struct {
	Iface      string
	PrefixStr  string
	PingAddr   string
	ObjectPath string
	Verbose    bool
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.Iface, "iface", "", "network interface to attach the classifier to (required)")
	flag.StringVar(&cfg.PrefixStr, "prefix", "", "IPv6 prefix to match destinations against, as <addr>/<len> (required)")
	flag.StringVar(&cfg.PingAddr, "ping-addr", "127.0.0.1:7894", "address of the ipcanvas-service PingRecord listener")
	flag.StringVar(&cfg.ObjectPath, "object", "ipcanvas-ping.o", "path to the compiled classifier object")
	flag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")
	flag.Parse()
	return cfg
}

func run() error {
	cfg := parseFlags()
	if cfg.Iface == "" {
		return fmt.Errorf("ipcanvas-ping: --iface is required")
	}
	if cfg.PrefixStr == "" {
		return fmt.Errorf("ipcanvas-ping: --prefix is required")
	}

	p, err := prefix.Parse(cfg.PrefixStr)
	if err != nil {
		return fmt.Errorf("ipcanvas-ping: parse --prefix %q: %w", cfg.PrefixStr, err)
	}

	log := newLogger(cfg.Verbose)

	if err := xdpprog.RequirePrivileges(); err != nil {
		return fmt.Errorf("ipcanvas-ping: %w", err)
	}

	loaderCfg := xdpprog.DefaultLoaderConfig(cfg.ObjectPath, cfg.Iface)
	ld, err := xdpprog.Load(loaderCfg)
	if err != nil {
		return fmt.Errorf("ipcanvas-ping: load classifier on %s: %w", cfg.Iface, err)
	}
	defer ld.Close()

	if err := ld.SetPrefix(p); err != nil {
		return fmt.Errorf("ipcanvas-ping: configure prefix %s: %w", p, err)
	}
	log.Info("classifier attached", "iface", cfg.Iface, "prefix", p.String())

	reader, err := queue.NewRingbufReader(ld.RecordMap())
	if err != nil {
		return fmt.Errorf("ipcanvas-ping: open ring buffer: %w", err)
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dialWithRetry(ctx, cfg.PingAddr, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info("forwarding records", "ping_addr", cfg.PingAddr)

	return forward(ctx, reader, conn, log)
}

// dialWithRetry keeps trying to reach ipcanvas-service, since the two
// binaries are started independently and there's no guaranteed order.
func dialWithRetry(ctx context.Context, addr string, log *slog.Logger) (net.Conn, error) {
	var dialer net.Dialer
	var conn net.Conn

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMultiplier(2.0),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(0), // retry until ctx is cancelled
	)
	bo := backoff.WithContext(b, ctx)

	op := func() error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			log.Debug("waiting for ipcanvas-service", "address", addr, "error", err)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("ipcanvas-ping: dial ipcanvas-service at %s: %w", addr, err)
	}
	return conn, nil
}

// forward reads classified records off the kernel ring buffer and
// writes them straight through to the service connection, one record
// per write; the service's byte-pump reassembles records regardless
// of how they're chunked on the wire.
func forward(ctx context.Context, reader *queue.RingbufReader, conn net.Conn, log *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		record, err := reader.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ipcanvas-ping: read ring buffer: %w", err)
		}
		if _, err := conn.Write(record); err != nil {
			return fmt.Errorf("ipcanvas-ping: forward record: %w", err)
		}
	}
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
