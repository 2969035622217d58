package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/require"
)

type blockingServer struct {
	stopped chan struct{}
	closed  atomic.Bool
}

func newBlockingServer() *blockingServer {
	return &blockingServer{stopped: make(chan struct{})}
}

func (s *blockingServer) ListenAndServe() error {
	<-s.stopped
	return http.ErrServerClosed
}

func (s *blockingServer) Shutdown(context.Context) error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopped)
	}
	return nil
}

func TestServeUntilDone_WaitsForWorkerToFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := newBlockingServer()
	var finished atomic.Bool
	worker := func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		done <- serveUntilDone(ctx, glog.Nop(), server, worker, time.Second)
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return")
	}
	require.True(t, finished.Load())
	require.True(t, server.closed.Load())
}

func TestServeUntilDone_WorkerFailureStopsServer(t *testing.T) {
	server := newBlockingServer()
	boom := errors.New("store offline")

	err := serveUntilDone(context.Background(), glog.Nop(), server, func(context.Context) error {
		return boom
	}, time.Second)
	require.ErrorIs(t, err, boom)
	require.True(t, server.closed.Load())
}

func TestServeUntilDone_GivesUpOnStuckWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release := make(chan struct{})
	defer close(release)

	started := time.Now()
	err := serveUntilDone(ctx, glog.Nop(), newBlockingServer(), func(context.Context) error {
		<-release
		return nil
	}, 50*time.Millisecond)
	require.NoError(t, err)
	require.Less(t, time.Since(started), time.Second)
}
