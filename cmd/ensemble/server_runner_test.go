package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestServerRunnerStopsOnCancel(t *testing.T) {
	runner := &ServerRunner{ShutdownTimeout: 50 * time.Millisecond}
	stopCtx, stopCancel := context.WithCancel(context.Background())
	stopCancel()

	serveDone := make(chan struct{})
	var shutdownCalls int32

	server := ManagedServer{
		Name: "api",
		Serve: func() error {
			<-serveDone
			return http.ErrServerClosed
		},
		Shutdown: func(ctx context.Context) error {
			atomic.AddInt32(&shutdownCalls, 1)
			close(serveDone)
			return nil
		},
	}

	if err := runner.Run(stopCtx, server); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
	if atomic.LoadInt32(&shutdownCalls) != 1 {
		t.Fatalf("expected shutdown to be called once")
	}
}

func TestServerRunnerReturnsServeError(t *testing.T) {
	runner := &ServerRunner{ShutdownTimeout: 50 * time.Millisecond}

	var shutdownCalls int32
	server := ManagedServer{
		Name: "api",
		Serve: func() error {
			return errors.New("boom")
		},
		Shutdown: func(ctx context.Context) error {
			atomic.AddInt32(&shutdownCalls, 1)
			return nil
		},
	}

	err := runner.Run(context.Background(), server)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected error boom, got %v", err)
	}
	if atomic.LoadInt32(&shutdownCalls) != 1 {
		t.Fatalf("expected shutdown to be called once")
	}
}

func TestServerRunnerNoServe(t *testing.T) {
	runner := &ServerRunner{}
	if err := runner.Run(context.Background(), ManagedServer{Name: "api"}); err != nil {
		t.Fatalf("expected nil without a serve function, got %v", err)
	}
}
