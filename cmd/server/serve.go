package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/tbourn/go-wa-ocr-backend/internal/http"
	"github.com/tbourn/go-wa-ocr-backend/internal/http/handlers"
	"github.com/tbourn/go-wa-ocr-backend/internal/scheduler"
)

const shutdownTimeout = 20 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver, realtime socket and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(sctx)
	}()

	if err := a.wire(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.DefaultJobTimeout)
	if err != nil {
		return err
	}
	if err := scheduler.RegisterJobs(sched, a.cfg.Schedule, a.chats, a.system); err != nil {
		return err
	}

	gin.SetMode(a.cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Handlers: handlers.Deps{
			Chats:         a.chats,
			Messages:      a.messages,
			Documents:     a.docs,
			Organizations: a.orgs,
			System:        a.system,
			Ingest:        a.ingest,
			Executor:      a.pool,
			Realtime:      a.hub,
			WebhookSecret: a.cfg.WebhookSecret,
		},
		Replays: a.messages.HasReplay,
	}, a.cfg)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadTimeout:       a.cfg.ReadTimeout,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("base_path", a.cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		return sched.Stop()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
