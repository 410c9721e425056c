package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"stockledger/internal/models"
	"stockledger/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TestDB holds the database connection for testing
type TestDB struct {
	Pool    *pgxpool.Pool
	Cleanup func() error
}

// SetupTestDB connects to TEST_DATABASE_URL and applies the ledger migrations. The test is skipped
// when no database is configured.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if _, err := database.Migrate(ctx, pool, zap.NewNop()); err != nil {
		pool.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	db := &TestDB{
		Pool: pool,
		Cleanup: func() error {
			pool.Close()
			return nil
		},
	}
	t.Cleanup(func() { _ = db.Cleanup() })
	return db
}

// Fixture is one tenant with a variant stocked at two active locations and one inactive location.
type Fixture struct {
	TenantID   uuid.UUID
	VariantID  uuid.UUID
	LocationA  uuid.UUID
	LocationB  uuid.UUID
	InactiveID uuid.UUID
}

func (f *Fixture) Key(locationID uuid.UUID) models.InventoryKey {
	return models.InventoryKey{TenantID: f.TenantID, VariantID: f.VariantID, LocationID: locationID}
}

// SetupFixture seeds catalog rows under a fresh tenant so concurrent test runs never collide.
func SetupFixture(t *testing.T, db *TestDB) *Fixture {
	t.Helper()

	f := &Fixture{
		TenantID:   uuid.New(),
		VariantID:  uuid.New(),
		LocationA:  uuid.New(),
		LocationB:  uuid.New(),
		InactiveID: uuid.New(),
	}
	SetupTestVariant(t, db, f.TenantID, f.VariantID, "SKU-"+f.VariantID.String()[:8])
	SetupTestLocation(t, db, f.TenantID, f.LocationA, "Main warehouse", true)
	SetupTestLocation(t, db, f.TenantID, f.LocationB, "City store", true)
	SetupTestLocation(t, db, f.TenantID, f.InactiveID, "Closed depot", false)
	return f
}

// SetupTestVariant creates a catalog variant row
func SetupTestVariant(t *testing.T, db *TestDB, tenantID, variantID uuid.UUID, sku string) {
	t.Helper()

	query := `
		INSERT INTO product_variants (id, tenant_id, sku, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := db.Pool.Exec(context.Background(), query, variantID, tenantID, sku, time.Now()); err != nil {
		t.Fatalf("Failed to create test variant: %v", err)
	}
}

// SetupTestLocation creates a stocking location row
func SetupTestLocation(t *testing.T, db *TestDB, tenantID, locationID uuid.UUID, name string, active bool) {
	t.Helper()

	query := `
		INSERT INTO locations (id, tenant_id, name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	if _, err := db.Pool.Exec(context.Background(), query, locationID, tenantID, name, active, time.Now()); err != nil {
		t.Fatalf("Failed to create test location: %v", err)
	}
}
