package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ensemble/internal/logging"
)

const httpServerShutdownTimeout = 10 * time.Second

// ManagedServer is the one listener ensemble runs. Serve blocks until the
// listener fails; Shutdown drains in-flight requests.
type ManagedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

// ServerRunner serves until the listener fails or the stop context is
// cancelled, then shuts the server down within the configured timeout.
type ServerRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

// Run returns nil for a clean close; any other serve error is logged and
// returned for the caller's exit code.
func (runner *ServerRunner) Run(stop context.Context, server ManagedServer) error {
	if server.Serve == nil {
		return nil
	}

	serveResult := make(chan error, 1)
	go func() {
		serveResult <- server.Serve()
	}()

	var failure error
	select {
	case failure = <-serveResult:
	case <-stop.Done():
	}

	timeout := runner.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpServerShutdownTimeout
	}
	if server.Shutdown != nil {
		shutdownContext, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownContext); err != nil && runner.Logger != nil {
			runner.Logger.Warn(server.Name+" server shutdown failed", map[string]string{
				"error": err.Error(),
			})
		}
	}

	if failure == nil {
		// Stop was cancelled first; wait for the serve goroutine to hand
		// back its close result.
		select {
		case failure = <-serveResult:
		case <-time.After(timeout):
		}
	}
	if failure == nil || errors.Is(failure, http.ErrServerClosed) {
		return nil
	}
	if runner.Logger != nil {
		runner.Logger.Error("http server stopped", map[string]string{
			"server": server.Name,
			"error":  failure.Error(),
		})
	}
	return failure
}
