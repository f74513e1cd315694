package calsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/db"
	"github.com/bookline/bookline/internal/otelx"
	"github.com/bookline/bookline/internal/schedule"
)

// ConfigSource resolves tenant scheduling config.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*schedule.Config, error)
}

// Snapshot is the slice of an appointment the sync boundary needs.
type Snapshot struct {
	ServiceID       string
	StaffID         string
	CustomerName    string
	Notes           string
	Start           time.Time
	End             time.Time
	ExternalEventID string
}

// AppointmentSource reads appointment state at drain time, so the mirror
// always reflects the latest local write rather than the one that enqueued
// the job.
type AppointmentSource interface {
	Snapshot(ctx context.Context, tenantID, appointmentID string) (Snapshot, bool, error)
	SetExternalEventID(ctx context.Context, tenantID, appointmentID, eventID string) error
}

// Worker drains sync jobs with bounded retries. Sync is advisory: a job that
// exhausts its attempts is parked as failed and the appointment simply keeps
// an unset external_event_id.
type Worker struct {
	pool         *db.Pool
	repo         *Repository
	provider     calendar.Provider
	configs      ConfigSource
	appointments AppointmentSource
	logger       *slog.Logger
	interval     time.Duration
	batchSize    int
	backoff      time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, provider calendar.Provider, configs ConfigSource, appointments AppointmentSource, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:         pool,
		repo:         repo,
		provider:     provider,
		configs:      configs,
		appointments: appointments,
		logger:       logger,
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
		backoff:      cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("calendar sync batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var done []int64
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		skip, err := w.runJob(jobCtx, job)
		if err != nil {
			attempts := job.Attempts + 1
			nextRunAt := time.Now().UTC().Add(w.backoff * time.Duration(attempts))
			w.logger.Warn("calendar sync push failed",
				"appointment_id", job.AppointmentID,
				"action", job.Action,
				"attempt", attempts,
				"err", err,
			)
			if markErr := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, err.Error()); markErr != nil {
				return markErr
			}
			if attempts >= job.MaxAttempts {
				w.logger.Error("calendar sync job abandoned", "appointment_id", job.AppointmentID, "action", job.Action)
			}
			continue
		}
		if skip != "" {
			w.logger.Debug("calendar sync skipped", "appointment_id", job.AppointmentID, "reason", skip)
		}
		done = append(done, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, done); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// runJob pushes one sync intent. It returns a non-empty skip reason for the
// silent outcomes (disconnected tenant, sync disabled, appointment gone) and
// an error only for outcomes worth retrying.
func (w *Worker) runJob(ctx context.Context, job Job) (string, error) {
	cfg, err := w.configs.Get(ctx, job.TenantID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "tenant config missing", nil
		}
		return "", err
	}
	if !cfg.SyncEnabled && job.Action != ActionDelete {
		return "sync disabled", nil
	}

	calendarID := cfg.DefaultCalendarID
	if st, err := cfg.StaffByID(job.StaffID); err == nil && st.CalendarID != "" {
		calendarID = st.CalendarID
	}
	if calendarID == "" {
		return "no calendar configured", nil
	}

	if job.Action == ActionDelete {
		err := w.provider.DeleteEvent(ctx, job.TenantID, calendarID, job.ExternalEventID)
		if errors.Is(err, calendar.ErrNotConnected) {
			return "calendar disconnected", nil
		}
		return "", err
	}

	snap, ok, err := w.appointments.Snapshot(ctx, job.TenantID, job.AppointmentID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "appointment deleted", nil
	}

	ev := BuildEvent(cfg, snap)
	if snap.ExternalEventID == "" {
		eventID, err := w.provider.CreateEvent(ctx, job.TenantID, calendarID, ev)
		if errors.Is(err, calendar.ErrNotConnected) {
			return "calendar disconnected", nil
		}
		if err != nil {
			return "", err
		}
		return "", w.appointments.SetExternalEventID(ctx, job.TenantID, job.AppointmentID, eventID)
	}

	err = w.provider.UpdateEvent(ctx, job.TenantID, calendarID, snap.ExternalEventID, ev)
	if errors.Is(err, calendar.ErrNotConnected) {
		return "calendar disconnected", nil
	}
	return "", err
}

// BuildEvent converts an appointment snapshot into the provider event shape.
func BuildEvent(cfg *schedule.Config, snap Snapshot) calendar.Event {
	summary := snap.CustomerName
	if svc, err := cfg.ServiceByID(snap.ServiceID); err == nil {
		summary = fmt.Sprintf("%s: %s", svc.Name, snap.CustomerName)
	}
	return calendar.Event{
		Summary:     summary,
		Description: snap.Notes,
		Start:       snap.Start,
		End:         snap.End,
	}
}
