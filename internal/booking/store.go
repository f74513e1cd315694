package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/availability"
	"github.com/bookline/bookline/internal/calsync"
	"github.com/bookline/bookline/internal/db"
	"github.com/bookline/bookline/internal/outbox"
	"github.com/bookline/bookline/internal/schedule"
)

// ConfigSource resolves tenant scheduling config.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*schedule.Config, error)
}

// Store owns appointment persistence. The conflict check and the write commit
// atomically: an app-level check against the shared overlap predicate gives a
// precise error message, and the appointments exclusion constraint closes the
// remaining race between concurrent writers.
type Store struct {
	pool    *db.Pool
	configs ConfigSource
	outbox  *outbox.Repository
	syncs   *calsync.Repository
	logger  *slog.Logger
}

func NewStore(pool *db.Pool, configs ConfigSource, outboxRepo *outbox.Repository, syncRepo *calsync.Repository, logger *slog.Logger) *Store {
	return &Store{
		pool:    pool,
		configs: configs,
		outbox:  outboxRepo,
		syncs:   syncRepo,
		logger:  logger,
	}
}

const maxTxAttempts = 3

// Create validates the request, freezes the service duration and buffer into
// [start, end), and performs the conflict-checked insert. A losing concurrent
// writer gets apperr.ErrConflict and must re-query availability; there is no
// internal retry on conflict.
func (s *Store) Create(ctx context.Context, tenantID string, req CreateRequest) (Appointment, error) {
	if err := req.Validate(); err != nil {
		return Appointment{}, err
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return Appointment{}, err
	}
	svc, err := cfg.ServiceByID(req.ServiceID)
	if err != nil {
		return Appointment{}, err
	}
	if _, err := cfg.StaffByID(req.StaffID); err != nil {
		return Appointment{}, err
	}

	start := req.Start.UTC()
	appt := Appointment{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Customer:  Customer{Name: req.CustomerName, Phone: req.CustomerPhone},
		ServiceID: req.ServiceID,
		StaffID:   req.StaffID,
		Start:     start,
		End:       start.Add(time.Duration(svc.DurationMinutes+svc.BufferMinutes) * time.Minute),
		Status:    StatusPending,
		Source:    req.Source,
		Notes:     req.Notes,
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		busy, err := activeIntervalsTx(ctx, tx, tenantID, appt.StaffID, appt.Start, appt.End, "")
		if err != nil {
			return err
		}
		if availability.Conflicts(appt.Start, appt.End, busy) {
			return apperr.ErrConflict
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO appointments
				(id, tenant_id, customer_name, customer_phone, service_id, staff_id,
				 start_time, end_time, status, source, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at, updated_at
		`, appt.ID, appt.TenantID, appt.Customer.Name, appt.Customer.Phone, appt.ServiceID,
			appt.StaffID, appt.Start, appt.End, appt.Status, appt.Source, appt.Notes,
		).Scan(&appt.CreatedAt, &appt.UpdatedAt)
		if err != nil {
			if isExclusionViolation(err) {
				return apperr.ErrConflict
			}
			return err
		}

		if err := s.insertEvent(ctx, tx, "booking.appointment.created.v1", appt); err != nil {
			return err
		}
		if cfg.SyncEnabled {
			return s.syncs.Enqueue(ctx, tx, calsync.Job{
				TenantID:      tenantID,
				AppointmentID: appt.ID,
				StaffID:       appt.StaffID,
				Action:        calsync.ActionUpsert,
			})
		}
		return nil
	})
	if err != nil {
		return Appointment{}, err
	}
	return appt, nil
}

// Update applies a partial patch. A patch touching start, staff or service
// recomputes end from the current service definition and re-runs the conflict
// check excluding the appointment's own previous interval; a notes- or
// status-only patch touches neither.
func (s *Store) Update(ctx context.Context, tenantID, id string, patch Patch) error {
	if patch.Empty() {
		return apperr.Invalidf("empty patch")
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		appt, err := getForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}

		appt, err = applyPatch(cfg, appt, patch)
		if err != nil {
			return err
		}

		if patch.Reschedules() && appt.Status.Active() {
			busy, err := activeIntervalsTx(ctx, tx, tenantID, appt.StaffID, appt.Start, appt.End, appt.ID)
			if err != nil {
				return err
			}
			if availability.Conflicts(appt.Start, appt.End, busy) {
				return apperr.ErrConflict
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET customer_name = $3, customer_phone = $4, service_id = $5, staff_id = $6,
				start_time = $7, end_time = $8, status = $9, notes = $10, updated_at = now()
			WHERE id = $1 AND tenant_id = $2
		`, appt.ID, tenantID, appt.Customer.Name, appt.Customer.Phone, appt.ServiceID,
			appt.StaffID, appt.Start, appt.End, appt.Status, appt.Notes)
		if err != nil {
			if isExclusionViolation(err) {
				return apperr.ErrConflict
			}
			return err
		}

		if err := s.insertEvent(ctx, tx, "booking.appointment.updated.v1", appt); err != nil {
			return err
		}
		// Propagate to the mirrored event only once one exists; its absence
		// never blocks the local update.
		if cfg.SyncEnabled && appt.ExternalEventID != "" {
			return s.syncs.Enqueue(ctx, tx, calsync.Job{
				TenantID:      tenantID,
				AppointmentID: appt.ID,
				StaffID:       appt.StaffID,
				Action:        calsync.ActionUpsert,
			})
		}
		return nil
	})
}

// Delete hard-deletes the appointment and enqueues a best-effort removal of
// the mirrored external event. The local delete never waits on the provider.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		appt, err := getForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}

		if appt.ExternalEventID != "" {
			// The row is about to disappear; the job carries everything the
			// worker needs to delete the mirror.
			if err := s.syncs.Enqueue(ctx, tx, calsync.Job{
				TenantID:        tenantID,
				AppointmentID:   appt.ID,
				StaffID:         appt.StaffID,
				Action:          calsync.ActionDelete,
				ExternalEventID: appt.ExternalEventID,
			}); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM appointments WHERE id = $1 AND tenant_id = $2
		`, id, tenantID); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, "booking.appointment.deleted.v1", appt)
	})
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (Appointment, error) {
	row := s.pool.QueryRow(ctx, selectColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, apperr.NotFoundf("appointment %q", id)
		}
		return Appointment{}, err
	}
	return appt, nil
}

// List is a snapshot range read; no isolation guarantee against concurrent
// writers.
func (s *Store) List(ctx context.Context, tenantID string, from, to time.Time, staffID string, limit int) ([]Appointment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR staff_id = $4)
		ORDER BY start_time, staff_id
		LIMIT $5
	`, tenantID, from, to, staffID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

// ActiveIntervals implements availability.BusyReader: one range read of the
// booked intervals per staff member within [from, to).
func (s *Store) ActiveIntervals(ctx context.Context, tenantID string, staffIDs []string, from, to time.Time) (map[string][]availability.Interval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT staff_id, start_time, end_time
		FROM appointments
		WHERE tenant_id = $1
			AND staff_id = ANY($2)
			AND status IN ('pending', 'confirmed', 'done')
			AND start_time < $4
			AND end_time > $3
	`, tenantID, staffIDs, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]availability.Interval)
	for rows.Next() {
		var staffID string
		var iv availability.Interval
		if err := rows.Scan(&staffID, &iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out[staffID] = append(out[staffID], iv)
	}
	return out, rows.Err()
}

// Snapshot implements calsync.AppointmentSource for the sync worker.
func (s *Store) Snapshot(ctx context.Context, tenantID, id string) (calsync.Snapshot, bool, error) {
	appt, err := s.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return calsync.Snapshot{}, false, nil
		}
		return calsync.Snapshot{}, false, err
	}
	return calsync.Snapshot{
		ServiceID:       appt.ServiceID,
		StaffID:         appt.StaffID,
		CustomerName:    appt.Customer.Name,
		Notes:           appt.Notes,
		Start:           appt.Start,
		End:             appt.End,
		ExternalEventID: appt.ExternalEventID,
	}, true, nil
}

// SetExternalEventID records a successful sync push. The appointment may have
// been deleted in the meantime; that is not an error.
func (s *Store) SetExternalEventID(ctx context.Context, tenantID, id, eventID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET external_event_id = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, eventID)
	return err
}

const selectColumns = `
		SELECT id, tenant_id, customer_name, customer_phone, service_id, staff_id,
			start_time, end_time, status, source, COALESCE(notes, ''),
			COALESCE(external_event_id, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var appt Appointment
	err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.Customer.Name,
		&appt.Customer.Phone,
		&appt.ServiceID,
		&appt.StaffID,
		&appt.Start,
		&appt.End,
		&appt.Status,
		&appt.Source,
		&appt.Notes,
		&appt.ExternalEventID,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	return appt, err
}

func getForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Appointment, error) {
	row := tx.QueryRow(ctx, selectColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, id, tenantID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Covers both a missing row and a cross-tenant id: existence of
			// another tenant's record must not leak.
			return Appointment{}, apperr.NotFoundf("appointment %q", id)
		}
		return Appointment{}, err
	}
	return appt, nil
}

func activeIntervalsTx(ctx context.Context, tx pgx.Tx, tenantID, staffID string, from, to time.Time, excludeID string) ([]availability.Interval, error) {
	rows, err := tx.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE tenant_id = $1
			AND staff_id = $2
			AND status IN ('pending', 'confirmed', 'done')
			AND start_time < $4
			AND end_time > $3
			AND id::text <> $5
	`, tenantID, staffID, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, rows.Err()
}

func (s *Store) insertEvent(ctx context.Context, tx pgx.Tx, eventType string, appt Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"tenant_id":      appt.TenantID,
		"staff_id":       appt.StaffID,
		"service_id":     appt.ServiceID,
		"customer_name":  appt.Customer.Name,
		"customer_phone": appt.Customer.Phone,
		"start":          appt.Start.UTC().Format(time.RFC3339),
		"end":            appt.End.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

// withTx runs fn in a transaction, retrying only on transient serialization
// failures. Conflicts and validation errors are never retried.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isTransient(err) {
			return err
		}
		s.logger.Warn("transient tx failure, retrying", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
