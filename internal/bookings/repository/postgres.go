package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bookingserrors "carrental/internal/bookings/errors"
	"carrental/pkg/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgExclusionViolation   = "23P01"

	paymentRefConstraint = "bookings_external_payment_ref_key"
)

const bookingColumns = `id, vehicle_id, user_id, start_date, end_date, pickup_location, pickup_time,
	email, phone, notes, coupon_code, total_price, status, external_payment_ref, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

type pgTx struct {
	vehicleID string
	tx        pgx.Tx
}

type postgresReservationStore struct {
	pool          *pgxpool.Pool
	atomicTimeout time.Duration
}

func NewPostgresReservationStore(pool *pgxpool.Pool, atomicTimeout time.Duration) ReservationStore {
	return &postgresReservationStore{pool: pool, atomicTimeout: atomicTimeout}
}

func (r *postgresReservationStore) db(ctx context.Context) querier {
	if t, ok := ctx.Value(pgTxKey{}).(*pgTx); ok {
		return t.tx
	}
	return r.pool
}

func classifyPg(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %s: %v", bookingserrors.ErrTransient, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return fmt.Errorf("%w: %s: %s", bookingserrors.ErrTransient, op, pgErr.Message)
		case pgUniqueViolation:
			if pgErr.ConstraintName == paymentRefConstraint {
				return fmt.Errorf("%w: %s", bookingserrors.ErrDuplicatePaymentRef, pgErr.Detail)
			}
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", bookingserrors.ErrVehicleNotFound, pgErr.Detail)
		case pgExclusionViolation:
			return fmt.Errorf("%w: %s", bookingserrors.ErrConflict, pgErr.Detail)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *postgresReservationStore) VehicleExists(ctx context.Context, vehicleID string) (bool, error) {
	var exists bool
	err := r.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vehicles WHERE id = $1)`, vehicleID).Scan(&exists)
	if err != nil {
		return false, classifyPg("check vehicle", err)
	}
	return exists, nil
}

func (r *postgresReservationStore) FindActiveBookingsOverlapping(ctx context.Context, vehicleID string, dr model.DateRange) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE vehicle_id = $1
		  AND status = ANY($2)
		  AND start_date < $4
		  AND end_date > $3
		ORDER BY start_date
	`
	return r.query(ctx, "find overlapping bookings", query, vehicleID, activeStatusStrings(), dr.StartDate, dr.EndDate)
}

func activeStatusStrings() []string {
	out := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *postgresReservationStore) NewBookingID() string {
	return uuid.NewString()
}

func (r *postgresReservationStore) InsertBooking(ctx context.Context, booking *model.Booking) (string, error) {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = model.StatusPending
	}

	query := `
		INSERT INTO bookings (id, vehicle_id, user_id, start_date, end_date, pickup_location, pickup_time,
			email, phone, notes, coupon_code, total_price, status, external_payment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	err := r.db(ctx).QueryRow(ctx, query,
		booking.ID,
		booking.VehicleID,
		booking.UserID,
		booking.StartDate,
		booking.EndDate,
		booking.PickupLocation,
		booking.PickupTime,
		booking.Email,
		booking.Phone,
		booking.Notes,
		booking.CouponCode,
		booking.TotalPrice,
		string(booking.Status),
		booking.ExternalPaymentRef,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return "", classifyPg("insert booking", err)
	}
	return booking.ID, nil
}

func (r *postgresReservationStore) RunAtomic(ctx context.Context, vehicleID string, fn AtomicFunc) error {
	if t, ok := ctx.Value(pgTxKey{}).(*pgTx); ok {
		if t.vehicleID != vehicleID {
			return fmt.Errorf("nested atomic block for vehicle %s inside block for %s", vehicleID, t.vehicleID)
		}
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.atomicTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classifyPg("begin transaction", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.atomicTimeout.Milliseconds())); err != nil {
		return classifyPg("set lock timeout", err)
	}

	// Row lock on the vehicle serializes reservations per vehicle only.
	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM vehicles WHERE id = $1 FOR UPDATE`, vehicleID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", bookingserrors.ErrVehicleNotFound, vehicleID)
	}
	if err != nil {
		return classifyPg("lock vehicle", err)
	}

	if err := fn(context.WithValue(ctx, pgTxKey{}, &pgTx{vehicleID: vehicleID, tx: tx})); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPg("commit transaction", err)
	}
	return nil
}

func (r *postgresReservationStore) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}
	return r.queryOne(ctx, "find booking", `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (r *postgresReservationStore) FindByPaymentRef(ctx context.Context, ref string) (*model.Booking, error) {
	return r.queryOne(ctx, "find booking by payment reference",
		`SELECT `+bookingColumns+` FROM bookings WHERE external_payment_ref = $1`, ref)
}

func (r *postgresReservationStore) FindByUser(ctx context.Context, userID string, limit int, offset int64) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	return r.query(ctx, "find user bookings", query, userID, limit, offset)
}

func (r *postgresReservationStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, classifyPg("count user bookings", err)
	}
	return n, nil
}

func (r *postgresReservationStore) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	return r.query(ctx, "find bookings", query, limit, offset)
}

func (r *postgresReservationStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings`).Scan(&n); err != nil {
		return 0, classifyPg("count bookings", err)
	}
	return n, nil
}

func (r *postgresReservationStore) UpdateStatus(ctx context.Context, id string, from, to model.BookingStatus) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	query := `
		UPDATE bookings SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + bookingColumns
	booking, err := r.queryOne(ctx, "update booking status", query, id, string(from), string(to))
	if errors.Is(err, bookingserrors.ErrNotFound) {
		current, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("%w: expected %s, found %s", bookingserrors.ErrStatusChanged, from, current.Status)
	}
	return booking, err
}

func (r *postgresReservationStore) UpdateDetails(ctx context.Context, id string, update *model.BookingDetailsUpdate) (*model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", bookingserrors.ErrInvalidID, id)
	}

	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("pickup_location", update.PickupLocation)
	add("pickup_time", update.PickupTime)
	add("email", update.Email)
	add("phone", update.Phone)
	add("notes", update.Notes)

	query := `UPDATE bookings SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + bookingColumns
	return r.queryOne(ctx, "update booking details", query, args...)
}

func (r *postgresReservationStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresReservationStore) query(ctx context.Context, op, query string, args ...any) ([]*model.Booking, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPg(op, err)
	}
	defer rows.Close()

	bookings := []*model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classifyPg(op, err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg(op, err)
	}
	return bookings, nil
}

func (r *postgresReservationStore) queryOne(ctx context.Context, op, query string, args ...any) (*model.Booking, error) {
	b, err := scanBooking(r.db(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bookingserrors.ErrNotFound
	}
	if err != nil {
		return nil, classifyPg(op, err)
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	var status string
	err := row.Scan(
		&b.ID,
		&b.VehicleID,
		&b.UserID,
		&b.StartDate,
		&b.EndDate,
		&b.PickupLocation,
		&b.PickupTime,
		&b.Email,
		&b.Phone,
		&b.Notes,
		&b.CouponCode,
		&b.TotalPrice,
		&status,
		&b.ExternalPaymentRef,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.StartDate = b.StartDate.UTC()
	b.EndDate = b.EndDate.UTC()
	return &b, nil
}
