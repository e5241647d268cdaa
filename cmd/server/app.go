package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/observability"
	"github.com/tbourn/go-wa-ocr-backend/internal/ocr"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/search"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
	"github.com/tbourn/go-wa-ocr-backend/internal/sysutil"
	"github.com/tbourn/go-wa-ocr-backend/internal/worker"
)

// app holds every long-lived collaborator, built once per process.
type app struct {
	cfg     config.Config
	version string
	db      *gorm.DB

	hub  *notify.Hub
	pool *worker.Pool

	chats    *services.ChatService
	messages *services.MessageService
	docs     *services.DocumentService
	orgs     *services.OrganizationService
	ingest   *services.IngestService
	system   *services.SystemService

	closers []func(context.Context) error
}

// bootstrap loads configuration, sets up logging and tracing and opens the
// store. Commands that only need the database stop here.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)

	a := &app{cfg: cfg, version: sysutil.ResolveVersion(version)}

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, a.version,
		observability.WithAttributes(
			attribute.String("ocr.engine", engineLabel(cfg.OCR.Engine)),
			attribute.String("db.system", cfg.DB.Driver),
		))
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, shutdownOTel)

	db, err := repo.Open(cfg.DB, cfg.OTEL.Enabled)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := repo.AutoMigrate(db); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", cfg.DB.Driver).Str("version", a.version).Msg("store ready")
	return a, nil
}

// wire builds the gateway client, OCR engine, executor, realtime hub and
// services on top of an open store.
func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	var mirrors []notify.Publisher
	if cfg.AMQP.URL != "" {
		pub, err := notify.NewAMQPPublisher(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.OTEL.ServiceName)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		mirrors = append(mirrors, pub)
		log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("realtime events mirrored to AMQP")
	}
	a.hub = notify.NewHub(cfg.WSBufferSize, mirrors...)
	a.closers = append(a.closers, func(context.Context) error { return a.hub.Close() })

	engine, err := ocr.New(ctx, cfg.OCR)
	if err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if c, ok := engine.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}
	if !ocr.ReadsImages(cfg.OCR.Engine) {
		log.Warn().Str("engine", engineLabel(cfg.OCR.Engine)).
			Msg("OCR engine only reads PDFs; image attachments will end in document_processing_error")
	}

	a.pool = worker.NewPool(cfg.Worker.Workers, cfg.Worker.QueueSize)
	a.pool.Start()
	a.closers = append(a.closers, a.pool.Shutdown)

	gw := provider.New(cfg.Provider)
	resolver := services.NewChatResolver(a.db, gw, a.hub)

	a.docs = &services.DocumentService{
		DB:       a.db,
		Media:    gw,
		OCR:      engine,
		Engine:   engineLabel(cfg.OCR.Engine),
		Notifier: a.hub,
		Index:    search.New(),
		Executor: a.pool,
	}
	n, err := a.docs.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}
	log.Info().Int("documents", n).Msg("search index rebuilt")

	a.ingest = &services.IngestService{
		DB:        a.db,
		Chats:     resolver,
		Notifier:  a.hub,
		Executor:  a.pool,
		Documents: a.docs,
	}
	a.messages = &services.MessageService{
		DB:             a.db,
		Chats:          resolver,
		Gateway:        gw,
		Notifier:       a.hub,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	a.chats = services.NewChatService(a.db, resolver, gw)
	a.orgs = services.NewOrganizationService(a.db)
	a.system = &services.SystemService{
		DB:          a.db,
		Version:     a.version,
		OCREngine:   engineLabel(cfg.OCR.Engine),
		StartedAt:   time.Now().UTC(),
		Executor:    a.pool,
		Subscribers: a.hub,
	}
	return nil
}

// close runs the registered closers in reverse order, so the executor drains
// before the hub, the store and the tracer go away.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func engineLabel(engine string) string {
	if engine == "" {
		return ocr.EngineLocal
	}
	return engine
}
