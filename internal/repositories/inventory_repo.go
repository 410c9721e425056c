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

const itemColumns = `id, tenant_id, variant_id, location_id, on_hand, reserved, safety_stock, channel_buffers, created_at, updated_at`

const (
	getItemQuery = `SELECT ` + itemColumns + ` FROM inventory_items WHERE tenant_id = $1 AND variant_id = $2 AND location_id = $3`

	lockItemQuery = getItemQuery + ` FOR UPDATE`

	createItemQuery = `
		INSERT INTO inventory_items (id, tenant_id, variant_id, location_id, on_hand, reserved, safety_stock, channel_buffers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, '{}'::jsonb, $5, $5)
		ON CONFLICT (tenant_id, variant_id, location_id) DO NOTHING`

	saveItemQuery = `
		UPDATE inventory_items
		SET on_hand = $1, reserved = $2, safety_stock = $3, channel_buffers = $4, updated_at = $5
		WHERE id = $6`

	movementColumns = `id, tenant_id, variant_id, location_id, direction, quantity, reason, reference, actor, channel, created_at`

	insertMovementQuery = `
		INSERT INTO stock_movements (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	movementsForKeyQuery = `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE tenant_id = $1 AND variant_id = $2 AND location_id = $3
		ORDER BY created_at, id`

	dailySalesQuery = `
		SELECT date_trunc('day', created_at) AS day, SUM(quantity)
		FROM stock_movements
		WHERE tenant_id = $1 AND variant_id = $2 AND location_id = $3
			AND reason = 'sale' AND direction = 'out' AND created_at >= $4
			AND ($5::text IS NULL OR channel = $5)
		GROUP BY day
		ORDER BY day`
)

func scanItem(row pgx.Row) (*models.InventoryItem, error) {
	item := &models.InventoryItem{}
	err := row.Scan(&item.ID, &item.TenantID, &item.VariantID, &item.LocationID, &item.OnHand, &item.Reserved,
		&item.SafetyStock, &item.ChannelBuffers, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if item.ChannelBuffers == nil {
		item.ChannelBuffers = map[string]int{}
	}
	return item, nil
}

func scanMovement(row pgx.Row) (*models.StockMovement, error) {
	m := &models.StockMovement{}
	err := row.Scan(&m.ID, &m.TenantID, &m.VariantID, &m.LocationID, &m.Direction, &m.Quantity, &m.Reason,
		&m.Reference, &m.Actor, &m.Channel, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (t *pgLedgerTx) LockItem(ctx context.Context, key models.InventoryKey) (*models.InventoryItem, error) {
	return scanItem(t.q.QueryRow(ctx, lockItemQuery, key.TenantID, key.VariantID, key.LocationID))
}

func (t *pgLedgerTx) LockOrCreateItem(ctx context.Context, key models.InventoryKey, now time.Time) (*models.InventoryItem, error) {
	if _, err := t.q.Exec(ctx, createItemQuery, uuid.New(), key.TenantID, key.VariantID, key.LocationID, now); err != nil {
		return nil, fmt.Errorf("create inventory item %s: %w", key, err)
	}
	return t.LockItem(ctx, key)
}

func (t *pgLedgerTx) SaveItem(ctx context.Context, item *models.InventoryItem) error {
	tag, err := t.q.Exec(ctx, saveItemQuery, item.OnHand, item.Reserved, item.SafetyStock, item.ChannelBuffers, item.UpdatedAt, item.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgLedgerTx) AppendMovement(ctx context.Context, m *models.StockMovement) error {
	_, err := t.q.Exec(ctx, insertMovementQuery, m.ID, m.TenantID, m.VariantID, m.LocationID, m.Direction, m.Quantity,
		m.Reason, m.Reference, m.Actor, m.Channel, m.CreatedAt)
	return err
}

func (s *PostgresStore) GetItem(ctx context.Context, key models.InventoryKey) (*models.InventoryItem, error) {
	return scanItem(s.db.QueryRow(ctx, getItemQuery, key.TenantID, key.VariantID, key.LocationID))
}

func (s *PostgresStore) ListItems(ctx context.Context, tenantID uuid.UUID, filter *models.InventorySearchFilter) ([]*models.InventoryItem, error) {
	if filter == nil {
		filter = &models.InventorySearchFilter{}
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
	if filter.MaxAvailable != nil {
		args = append(args, *filter.MaxAvailable)
		conditions = append(conditions, fmt.Sprintf("on_hand - reserved <= $%d", len(args)))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM inventory_items WHERE %s ORDER BY updated_at DESC, id LIMIT $%d OFFSET $%d`,
		itemColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListMovements(ctx context.Context, tenantID uuid.UUID, filter *models.MovementFilter) ([]*models.StockMovement, error) {
	if filter == nil {
		filter = &models.MovementFilter{}
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
	if filter.Reason != nil {
		args = append(args, *filter.Reason)
		conditions = append(conditions, fmt.Sprintf("reason = $%d", len(args)))
	}
	if filter.Reference != "" {
		args = append(args, filter.Reference)
		conditions = append(conditions, fmt.Sprintf("reference = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM stock_movements WHERE %s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		movementColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	return s.queryMovements(ctx, query, args...)
}

func (s *PostgresStore) MovementsForKey(ctx context.Context, key models.InventoryKey) ([]*models.StockMovement, error) {
	return s.queryMovements(ctx, movementsForKeyQuery, key.TenantID, key.VariantID, key.LocationID)
}

func (s *PostgresStore) queryMovements(ctx context.Context, query string, args ...interface{}) ([]*models.StockMovement, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []*models.StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *PostgresStore) DailySales(ctx context.Context, key models.InventoryKey, channel *string, since time.Time) ([]models.DailySales, error) {
	rows, err := s.db.Query(ctx, dailySalesQuery, key.TenantID, key.VariantID, key.LocationID, since, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []models.DailySales
	for rows.Next() {
		var d models.DailySales
		if err := rows.Scan(&d.Day, &d.Quantity); err != nil {
			return nil, err
		}
		sales = append(sales, d)
	}
	return sales, rows.Err()
}
