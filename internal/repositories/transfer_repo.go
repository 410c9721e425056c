package repositories

import (
	"context"
	"fmt"
	"strings"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transferColumns = `id, tenant_id, variant_id, from_location_id, to_location_id, quantity, status, reservation_id,
	reason, reference, notes, created_by, created_at, shipped_at, completed_by, completed_at, cancelled_at, updated_at`

const (
	insertTransferQuery = `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getTransferQuery = `SELECT ` + transferColumns + ` FROM transfers WHERE tenant_id = $1 AND id = $2`

	lockTransferQuery = getTransferQuery + ` FOR UPDATE`

	updateTransferQuery = `
		UPDATE transfers
		SET status = $1, shipped_at = $2, completed_by = $3, completed_at = $4, cancelled_at = $5, notes = $6, updated_at = $7
		WHERE tenant_id = $8 AND id = $9`
)

func scanTransfer(row pgx.Row) (*models.Transfer, error) {
	t := &models.Transfer{}
	err := row.Scan(&t.ID, &t.TenantID, &t.VariantID, &t.FromLocationID, &t.ToLocationID, &t.Quantity, &t.Status,
		&t.ReservationID, &t.Reason, &t.Reference, &t.Notes, &t.CreatedBy, &t.CreatedAt, &t.ShippedAt, &t.CompletedBy,
		&t.CompletedAt, &t.CancelledAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (t *pgLedgerTx) InsertTransfer(ctx context.Context, tr *models.Transfer) error {
	_, err := t.q.Exec(ctx, insertTransferQuery, tr.ID, tr.TenantID, tr.VariantID, tr.FromLocationID, tr.ToLocationID,
		tr.Quantity, tr.Status, tr.ReservationID, tr.Reason, tr.Reference, tr.Notes, tr.CreatedBy, tr.CreatedAt,
		tr.ShippedAt, tr.CompletedBy, tr.CompletedAt, tr.CancelledAt, tr.UpdatedAt)
	return err
}

func (t *pgLedgerTx) LockTransfer(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error) {
	return scanTransfer(t.q.QueryRow(ctx, lockTransferQuery, tenantID, id))
}

func (t *pgLedgerTx) UpdateTransfer(ctx context.Context, tr *models.Transfer) error {
	tag, err := t.q.Exec(ctx, updateTransferQuery, tr.Status, tr.ShippedAt, tr.CompletedBy, tr.CompletedAt, tr.CancelledAt,
		tr.Notes, tr.UpdatedAt, tr.TenantID, tr.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTransfer(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error) {
	return scanTransfer(s.db.QueryRow(ctx, getTransferQuery, tenantID, id))
}

func (s *PostgresStore) ListTransfers(ctx context.Context, tenantID uuid.UUID, filter *models.TransferFilter) ([]*models.Transfer, error) {
	if filter == nil {
		filter = &models.TransferFilter{}
	}
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	if filter.VariantID != nil {
		args = append(args, *filter.VariantID)
		conditions = append(conditions, fmt.Sprintf("variant_id = $%d", len(args)))
	}
	if filter.LocationID != nil {
		args = append(args, *filter.LocationID)
		conditions = append(conditions, fmt.Sprintf("(from_location_id = $%d OR to_location_id = $%d)", len(args), len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		transferColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
