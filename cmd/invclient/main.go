// Command invclient talks to the inventory server, or runs one.
//
//	invclient [-config file] serve
//	invclient [-config file] stores
//	invclient [-config file] create-store NAME
//	invclient [-config file] create-item NAME [QUANTITY [SHELF]]
//	invclient [-config file] shelf NAME
//	invclient [-config file] next-key KIND
//	invclient [-config file] watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fridgeinv/dbsock"
	"github.com/fridgeinv/dbsock/internal/config"
	"github.com/fridgeinv/dbsock/internal/inventory"
	"github.com/fridgeinv/dbsock/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, cleanup, err := logging.Setup(cfg.Logging, flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Args()); err != nil {
		logger.Error().Err(err).Msg("invclient failed")
		cleanup()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-config file] <serve|stores|create-store|create-item|shelf|next-key|watch> [args]\n", os.Args[0])
	flag.PrintDefaults()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) error {
	collector, err := dbsock.NewPrometheusCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if cfg.Metrics.Listen != "" && args[0] != "serve" {
		go serveMetrics(cfg.Metrics.Listen, logger)
	}

	switch args[0] {
	case "serve":
		return serve(ctx, cfg, logger)
	case "watch":
		return watch(ctx, cfg, logger, collector)
	}

	c, err := connect(ctx, cfg, logger, dbsock.NewHandlers(), collector)
	if err != nil {
		return err
	}
	defer c.Close()

	reqCtx := ctx
	if d := cfg.Client.RequestTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var command string
	fields := dbsock.NewFields()
	switch args[0] {
	case "stores":
		command = dbsock.CommandGetAllStore
	case "create-store":
		if len(args) < 2 {
			return errors.New("create-store: NAME is required")
		}
		command = dbsock.CommandCreateStore
		fields.Set("name", dbsock.Text(args[1]))
	case "create-item":
		if len(args) < 2 {
			return errors.New("create-item: NAME is required")
		}
		command = dbsock.CommandCreateInventoryItem
		fields = inventory.NewItem(args[1], time.Now()).Fields()
		if len(args) > 2 {
			fields.Set("quantity", dbsock.Text(args[2]))
		}
		if len(args) > 3 {
			fields.Set("shelf", dbsock.Text(args[3]))
		}
	case "shelf":
		if len(args) < 2 {
			return errors.New("shelf: NAME is required")
		}
		command = dbsock.CommandGetAllShelfInvItem
		fields.Set("name", dbsock.Text(args[1]))
	case "next-key":
		if len(args) < 2 {
			return errors.New("next-key: KIND is required")
		}
		command = dbsock.CommandNextSurrogateKey
		fields.Set("type", dbsock.Text(args[1]))
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	res, err := c.Request(reqCtx, command, fields)
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	printFields(res)
	return nil
}

// connect opens a connection and waits until it is open
func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger, h *dbsock.Handlers, collector dbsock.Collector) (*dbsock.Conn, error) {
	if cfg.Client.RootCerts != "" {
		if err := dbsock.TLSAddRootCerts(cfg.Client.RootCerts); err != nil {
			return nil, err
		}
	}
	opts := []dbsock.Option{
		dbsock.WithLogger(logger),
		dbsock.WithCollector(collector),
	}
	if cfg.Client.Codec == "json" {
		opts = append(opts, dbsock.WithCodec(dbsock.JSONCodec{}))
	}
	if cfg.Client.Transport == "gorilla" {
		opts = append(opts, dbsock.WithDialer(dbsock.GorillaDialer{}))
	}
	if cfg.Client.FailPendingOnClose {
		opts = append(opts, dbsock.WithFailPendingOnClose())
	}
	c := dbsock.NewConn(cfg.Endpoint(), h, opts...)

	dialCtx := ctx
	if d := cfg.Client.DialTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	opened := make(chan struct{})
	var dialErr error
	err := c.Connect(dialCtx,
		func(*dbsock.Conn) { close(opened) },
		nil,
		func(_ *dbsock.Conn, err error) { dialErr = err })
	if err != nil {
		return nil, err
	}
	select {
	case <-opened:
		return c, nil
	case <-c.Done():
		if dialErr == nil {
			dialErr = dbsock.ErrConnectionClosed
		}
		return nil, dialErr
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var codec dbsock.MessageCodec = dbsock.TextCodec{}
	if cfg.Client.Codec == "json" {
		codec = dbsock.JSONCodec{}
	}
	srv := dbsock.NewServer(codec, logger)
	inventory.New().Register(srv)

	mux := http.NewServeMux()
	mux.Handle(dbsock.DefaultPath, srv)
	if cfg.Metrics.Listen == "" || cfg.Metrics.Listen == cfg.Server.Listen {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		go serveMetrics(cfg.Metrics.Listen, logger)
	}

	hs := &http.Server{Addr: cfg.Server.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("listen", cfg.Server.Listen).Str("path", dbsock.DefaultPath).Msg("serving")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Str("listen", addr).Msg("metrics listener failed")
	}
}

func printFields(f *dbsock.Fields) {
	f.Range(func(k string, v dbsock.Value) bool {
		fmt.Printf("%s=%s\n", k, v.String())
		return true
	})
}
