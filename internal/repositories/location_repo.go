package repositories

import (
	"context"

	"stockledger/internal/models"

	"github.com/google/uuid"
)

const (
	getLocationQuery = `
		SELECT id, tenant_id, name, address, is_active, created_at, updated_at
		FROM locations
		WHERE tenant_id = $1 AND id = $2`

	variantExistsQuery = `SELECT EXISTS (SELECT 1 FROM product_variants WHERE tenant_id = $1 AND id = $2)`
)

func (s *PostgresStore) GetLocation(ctx context.Context, tenantID, id uuid.UUID) (*models.Location, error) {
	loc := &models.Location{}
	err := s.db.QueryRow(ctx, getLocationQuery, tenantID, id).Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.Address,
		&loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return loc, nil
}

func (s *PostgresStore) VariantExists(ctx context.Context, tenantID, variantID uuid.UUID) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, variantExistsQuery, tenantID, variantID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
