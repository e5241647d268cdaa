package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
)

// ChatSyncer pulls the provider's chat list into the store.
type ChatSyncer interface {
	Sync(ctx context.Context) (services.SyncResult, error)
}

// IdempotencyPurger removes expired idempotency records.
type IdempotencyPurger interface {
	PurgeIdempotency(ctx context.Context, now time.Time) (int64, error)
}

// RegisterJobs schedules the maintenance jobs configured in cfg.
func RegisterJobs(s *Scheduler, cfg config.ScheduleConfig, chats ChatSyncer, purger IdempotencyPurger) error {
	if err := s.Add(JobChatSync, cfg.ChatSync, func(ctx context.Context) error {
		_, err := chats.Sync(ctx)
		return err
	}); err != nil {
		return err
	}

	return s.Add(JobIdempotencyGC, cfg.IdempotencyGC, func(ctx context.Context) error {
		n, err := purger.PurgeIdempotency(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().Str("component", "scheduler").Int64("purged", n).Msg("expired idempotency records removed")
		}
		return nil
	})
}
