package repositories

import (
	"context"

	"stockledger/internal/models"

	"github.com/google/uuid"
)

const bufferRuleColumns = `id, tenant_id, channel, variant_id, location_id, buffer_type, value, min_buffer, max_buffer,
	priority, is_active, created_at, updated_at`

const (
	listBufferRulesQuery = `SELECT ` + bufferRuleColumns + ` FROM channel_buffer_rules
		WHERE tenant_id = $1 AND ($2 = false OR is_active)
		ORDER BY channel, priority DESC`

	saveBufferRuleQuery = `
		INSERT INTO channel_buffer_rules (` + bufferRuleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			channel = EXCLUDED.channel, variant_id = EXCLUDED.variant_id, location_id = EXCLUDED.location_id,
			buffer_type = EXCLUDED.buffer_type, value = EXCLUDED.value, min_buffer = EXCLUDED.min_buffer,
			max_buffer = EXCLUDED.max_buffer, priority = EXCLUDED.priority, is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		WHERE channel_buffer_rules.tenant_id = EXCLUDED.tenant_id`

	deactivateBufferRuleQuery = `UPDATE channel_buffer_rules SET is_active = false, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`

	bufferRuleTenantsQuery = `SELECT DISTINCT tenant_id FROM channel_buffer_rules WHERE is_active ORDER BY tenant_id`
)

func (s *PostgresStore) ListBufferRules(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*models.ChannelBufferRule, error) {
	rows, err := s.db.Query(ctx, listBufferRulesQuery, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.ChannelBufferRule
	for rows.Next() {
		r := &models.ChannelBufferRule{}
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Channel, &r.VariantID, &r.LocationID, &r.BufferType, &r.Value,
			&r.MinBuffer, &r.MaxBuffer, &r.Priority, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) SaveBufferRule(ctx context.Context, r *models.ChannelBufferRule) error {
	_, err := s.db.Exec(ctx, saveBufferRuleQuery, r.ID, r.TenantID, r.Channel, r.VariantID, r.LocationID, r.BufferType,
		r.Value, r.MinBuffer, r.MaxBuffer, r.Priority, r.IsActive, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *PostgresStore) DeactivateBufferRule(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, deactivateBufferRuleQuery, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListBufferRuleTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, bufferRuleTenantsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
