package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/stephnangue/azgraph/listener"
	"github.com/stephnangue/azgraph/logger"
)

var _ listener.Listener = (*ApiListener)(nil)

type ApiListener struct {
	logger          logger.Logger
	server          *http.Server
	tlsCertFile     string
	tlsKeyFile      string
	shutdownTimeout time.Duration
	stopped         atomic.Bool
	addr            atomic.Value
}

type ApiListenerConfig struct {
	Logger      logger.Logger
	Address     string
	TLSCertFile string
	TLSKeyFile  string
	// ShutdownTimeout bounds graceful shutdown. Defaults to 30s.
	ShutdownTimeout time.Duration
	// WriteTimeout must exceed the slowest Resource Graph query.
	WriteTimeout time.Duration
}

func NewApiListener(cfg ApiListenerConfig, handler http.Handler) (*ApiListener, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("listener address is required")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("tls requires both a certificate and a key file")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	if cfg.TLSCertFile != "" {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	l := &ApiListener{
		logger:          log.WithSubsystem("listener"),
		server:          server,
		tlsCertFile:     cfg.TLSCertFile,
		tlsKeyFile:      cfg.TLSKeyFile,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	l.addr.Store(cfg.Address)
	return l, nil
}

// Addr returns the bound address once Start has opened the socket, the
// configured one before.
func (l *ApiListener) Addr() string {
	return l.addr.Load().(string)
}

func (l *ApiListener) Type() string {
	return "api"
}

// Start serves until ctx ends or the server fails.
func (l *ApiListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.server.Addr, err)
	}
	l.addr.Store(ln.Addr().String())

	l.logger.Info("starting HTTP server",
		logger.String("address", l.Addr()),
		logger.Bool("tls", l.tlsCertFile != ""),
	)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if l.tlsCertFile != "" {
			err = l.server.ServeTLS(ln, l.tlsCertFile, l.tlsKeyFile)
		} else {
			err = l.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("shutdown signal received")
		return l.Stop()
	case err := <-errChan:
		l.logger.Error("HTTP server error", logger.Err(err))
		return err
	}
}

func (l *ApiListener) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		l.logger.Info("HTTP server already stopped, skipping")
		return nil
	}

	l.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()

	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Error("error when shutting down the http server", logger.Err(err))
		return err
	}

	l.logger.Info("HTTP server stopped gracefully")
	return nil
}
