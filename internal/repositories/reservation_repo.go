package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reservationColumns = `id, tenant_id, variant_id, location_id, order_id, transfer_id, channel, quantity, status,
	expires_at, created_at, created_by, released_at, release_reason, consumed_at, updated_at`

const (
	insertReservationQuery = `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getReservationQuery = `SELECT ` + reservationColumns + ` FROM reservations WHERE tenant_id = $1 AND id = $2`

	lockReservationQuery = getReservationQuery + ` FOR UPDATE`

	updateReservationQuery = `
		UPDATE reservations
		SET status = $1, expires_at = $2, released_at = $3, release_reason = $4, consumed_at = $5, updated_at = $6
		WHERE tenant_id = $7 AND id = $8`

	expiredReservationsQuery = `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at, id
		LIMIT $2`

	expiredReservationsAfterQuery = `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
			AND (expires_at, id) > ($2, $3)
		ORDER BY expires_at, id
		LIMIT $4`

	countActiveReservationsQuery = `SELECT COUNT(*) FROM reservations WHERE status = 'active'`

	channelOutcomesQuery = `
		SELECT COUNT(*) FILTER (WHERE status = 'consumed'), COUNT(*) FILTER (WHERE status = 'released')
		FROM reservations
		WHERE tenant_id = $1 AND channel = $2 AND created_at >= $3`
)

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	r := &models.Reservation{}
	err := row.Scan(&r.ID, &r.TenantID, &r.VariantID, &r.LocationID, &r.OrderID, &r.TransferID, &r.Channel,
		&r.Quantity, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.CreatedBy, &r.ReleasedAt, &r.ReleaseReason,
		&r.ConsumedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (t *pgLedgerTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	_, err := t.q.Exec(ctx, insertReservationQuery, r.ID, r.TenantID, r.VariantID, r.LocationID, r.OrderID, r.TransferID,
		r.Channel, r.Quantity, r.Status, r.ExpiresAt, r.CreatedAt, r.CreatedBy, r.ReleasedAt, r.ReleaseReason,
		r.ConsumedAt, r.UpdatedAt)
	return err
}

func (t *pgLedgerTx) LockReservation(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error) {
	return scanReservation(t.q.QueryRow(ctx, lockReservationQuery, tenantID, id))
}

func (t *pgLedgerTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	tag, err := t.q.Exec(ctx, updateReservationQuery, r.Status, r.ExpiresAt, r.ReleasedAt, r.ReleaseReason, r.ConsumedAt,
		r.UpdatedAt, r.TenantID, r.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetReservation(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error) {
	return scanReservation(s.db.QueryRow(ctx, getReservationQuery, tenantID, id))
}

func (s *PostgresStore) ListReservations(ctx context.Context, tenantID uuid.UUID, filter *models.ReservationFilter) ([]*models.Reservation, error) {
	if filter == nil {
		filter = &models.ReservationFilter{}
	}
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	if filter.VariantID != nil {
		args = append(args, *filter.VariantID)
		conditions = append(conditions, fmt.Sprintf("variant_id = $%d", len(args)))
	}
	if filter.LocationID != nil {
		args = append(args, *filter.LocationID)
		conditions = append(conditions, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if filter.OrderID != nil {
		args = append(args, *filter.OrderID)
		conditions = append(conditions, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE %s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		reservationColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))
	return s.queryReservations(ctx, query, args...)
}

// ListExpiredReservations scans across tenants in (expires_at, id) order, starting after the
// cursor when one is given; the sweeper is not tenant scoped.
func (s *PostgresStore) ListExpiredReservations(ctx context.Context, before time.Time, after *models.ExpiryCursor, limit int) ([]*models.Reservation, error) {
	if after == nil {
		return s.queryReservations(ctx, expiredReservationsQuery, before, limit)
	}
	return s.queryReservations(ctx, expiredReservationsAfterQuery, before, after.ExpiresAt, after.ID, limit)
}

func (s *PostgresStore) CountActiveReservations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, countActiveReservationsQuery).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) ChannelOutcomes(ctx context.Context, tenantID uuid.UUID, channel string, since time.Time) (models.ChannelOutcomes, error) {
	var out models.ChannelOutcomes
	err := s.db.QueryRow(ctx, channelOutcomesQuery, tenantID, channel, since).Scan(&out.Consumed, &out.Released)
	return out, err
}

func (s *PostgresStore) queryReservations(ctx context.Context, query string, args ...interface{}) ([]*models.Reservation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}
