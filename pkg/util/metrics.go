package util

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type promhttpErrorLogger struct {
	promhttp.Logger

	baseLogger *slog.Logger
}

func (logger *promhttpErrorLogger) Println(v ...interface{}) {
	logger.baseLogger.Error("error during handling of metrics request", "errorArgs", v)
}

// StartMetricsServerIfEnabled starts a metrics server.
//
// The server responds to queries to the URL path "/metrics", and returns the metrics registered
// in the default global registry.
//
// If non-nil, the returned server should be eventually closed with Close() or Shutdown().
func StartMetricsServerIfEnabled(configSpec ConfigSpec, confPrefix string,
	logger *slog.Logger) (*http.Server, error) {
	serverEnabled := configSpec.GetBool(fmt.Sprintf("%s.enabled", confPrefix))
	if !serverEnabled {
		return nil, nil
	}
	serverAddress := configSpec.GetString(fmt.Sprintf("%s.listen-address", confPrefix))
	serverPort := configSpec.GetInt(fmt.Sprintf("%s.listen-port", confPrefix))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: &promhttpErrorLogger{baseLogger: logger},
	}))

	return StartHTTPServer("metrics", serverAddress, serverPort, mux, logger)
}

// StartHTTPServer listens on address:port and serves handler in the
// background. Port 0 picks a free port; the returned server's Addr
// holds the actual listening address.
func StartHTTPServer(name, address string, port int, handler http.Handler,
	logger *slog.Logger) (*http.Server, error) {
	logger.Debug("starting http server",
		"server", name, "address", address, "port", port)

	server := &http.Server{
		Handler:           handler,
		Addr:              fmt.Sprintf("%s:%d", address, port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenConfig := &net.ListenConfig{}
	listener, err := listenConfig.Listen(context.Background(), "tcp", server.Addr)
	if err != nil {
		logger.Error("http server: error listening on specified address",
			"server", name, "address", server.Addr, "error", err)
		return nil, err
	}

	server.Addr = listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "server", name, "error", err)
		}
	}()

	logger.Info("http server started",
		"server", name, "address", listener.Addr().String())

	return server, nil
}
