package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/httpapi"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook API and run the dispatch worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			controller := httpapi.NewController(a.api, a.receiver,
				httpapi.WithGatherer(a.registry),
				httpapi.WithLogger(a.logger),
			)
			server := &http.Server{
				Addr:              a.daemon.ListenAddr,
				Handler:           httpapi.NewRouter(controller),
				ReadHeaderTimeout: 10 * time.Second,
			}
			a.logger.Info("webhookd listening", "addr", server.Addr)

			var worker func(context.Context) error
			if !noWorker {
				worker = a.service.Run
			}
			return serveUntilDone(cmd.Context(), a.logger, server, worker, shutdownTimeout)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve HTTP only, without the dispatch worker")
	return cmd
}

// serveUntilDone runs server and worker until ctx ends or either fails. It
// returns only after the worker has stopped, or after timeout has passed.
func serveUntilDone(
	ctx context.Context,
	logger core.Logger,
	server httpServer,
	worker func(context.Context) error,
	timeout time.Duration,
) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	workerDone := make(chan struct{})
	if worker == nil {
		close(workerDone)
	} else {
		go func() {
			defer close(workerDone)
			if err := worker(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	stop()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatch worker did not stop before shutdown timeout")
	}
	logger.Info("webhookd stopped")
	return runErr
}
