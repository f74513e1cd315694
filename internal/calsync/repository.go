// Package calsync queues and drains calendar sync intents. Booking writes
// enqueue a job in their own transaction; the worker pushes the mirror to the
// provider afterwards, so provider latency and outages never touch the
// request path.
package calsync

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookline/bookline/internal/otelx"
)

const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// Job is a sync intent: which appointment, and what should happen to its
// mirror. Delete jobs carry the event id because the local row is already
// gone when the worker runs.
type Job struct {
	ID              int64
	TenantID        string
	AppointmentID   string
	StaffID         string
	Action          string
	ExternalEventID string
	Attempts        int
	MaxAttempts     int
	NextRunAt       time.Time
	Traceparent     string
	Tracestate      string
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, job Job) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO calendar_sync_jobs
			(tenant_id, appointment_id, staff_id, action, external_event_id, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.TenantID, job.AppointmentID, job.StaffID, job.Action, job.ExternalEventID, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, appointment_id, staff_id, action, COALESCE(external_event_id, ''),
			attempts, max_attempts, next_run_at, COALESCE(traceparent, ''), COALESCE(tracestate, '')
		FROM calendar_sync_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.AppointmentID, &j.StaffID, &j.Action, &j.ExternalEventID,
			&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_jobs
		SET attempts = $2,
			status = $3,
			next_run_at = $4,
			last_error = $5,
			updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
