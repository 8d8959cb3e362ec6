package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/CO3302Group3/convoy/internal/executor"
	"github.com/CO3302Group3/convoy/internal/server"
	"github.com/CO3302Group3/convoy/internal/unit"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7711", "listen address")
	idle := flag.Duration("idle", 0, "idle shutdown timeout (0 to disable)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoyd: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	resolver := &unit.Drivers{Exec: executor.Local{}}
	s := server.NewServer(resolver, *idle, logger)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *addr).Msg("listen")
	}

	logger.Info().Stringer("addr", ln.Addr()).Msg("convoyd listening")

	httpSrv := &http.Server{Handler: s}

	// Serve in background.
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	// Wait for idle shutdown, signal, or serve error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-s.ShutdownCh():
		logger.Info().Msg("idle timeout, shutting down")
	case sig := <-sigCh:
		logger.Info().Stringer("signal", sig).Msg("shutting down")
	case err := <-serveErr:
		logger.Fatal().Err(err).Msg("serve")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
}
