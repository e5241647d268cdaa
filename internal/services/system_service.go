package services

import (
	"context"
	"runtime"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/worker"
)

// SystemService reports process and store health.
type SystemService struct {
	DB          *gorm.DB
	Version     string
	OCREngine   string
	StartedAt   time.Time
	Executor    ExecutorStats
	Subscribers SubscriberCounter
}

// SystemInfo is the /system/info payload.
type SystemInfo struct {
	Version       string        `json:"version"`
	GoVersion     string        `json:"go_version"`
	StartedAt     time.Time     `json:"started_at"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Goroutines    int           `json:"goroutines"`
	OCREngine     string        `json:"ocr_engine"`
	Store         repo.Counts   `json:"store"`
	Executor      *worker.Stats `json:"executor,omitempty"`
	Subscribers   int           `json:"ws_subscribers"`
}

// Info gathers the current snapshot.
func (s *SystemService) Info(ctx context.Context) (*SystemInfo, error) {
	counts, err := repo.TableCounts(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	info := &SystemInfo{
		Version:    s.Version,
		GoVersion:  runtime.Version(),
		StartedAt:  s.StartedAt,
		Goroutines: runtime.NumGoroutine(),
		OCREngine:  s.OCREngine,
		Store:      counts,
	}
	if !s.StartedAt.IsZero() {
		info.UptimeSeconds = int64(time.Since(s.StartedAt).Seconds())
	}
	if s.Executor != nil {
		st := s.Executor.Stats()
		info.Executor = &st
	}
	if s.Subscribers != nil {
		info.Subscribers = s.Subscribers.SubscriberCount()
	}
	return info, nil
}

// PurgeIdempotency deletes expired idempotency records.
func (s *SystemService) PurgeIdempotency(ctx context.Context, now time.Time) (int64, error) {
	return repo.PurgeSendKeys(ctx, s.DB, now)
}
