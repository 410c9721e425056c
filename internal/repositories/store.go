package repositories

import (
	"context"
	"errors"
	"time"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("stockledger: not found")
	ErrAlreadyExists = errors.New("stockledger: already exists")
)

// Database is the subset of pgxpool.Pool the store needs; pgxmock pools satisfy it too.
type Database interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// querier is satisfied by both Database and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// LedgerTx is a unit of work over the ledger tables. Lock* methods hold the row until the
// transaction ends, so every mutation of a key is serialized.
type LedgerTx interface {
	LockItem(ctx context.Context, key models.InventoryKey) (*models.InventoryItem, error)
	LockOrCreateItem(ctx context.Context, key models.InventoryKey, now time.Time) (*models.InventoryItem, error)
	SaveItem(ctx context.Context, item *models.InventoryItem) error
	AppendMovement(ctx context.Context, movement *models.StockMovement) error

	InsertReservation(ctx context.Context, reservation *models.Reservation) error
	LockReservation(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, reservation *models.Reservation) error

	InsertTransfer(ctx context.Context, transfer *models.Transfer) error
	LockTransfer(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error)
	UpdateTransfer(ctx context.Context, transfer *models.Transfer) error
}

type LedgerReader interface {
	GetItem(ctx context.Context, key models.InventoryKey) (*models.InventoryItem, error)
	ListItems(ctx context.Context, tenantID uuid.UUID, filter *models.InventorySearchFilter) ([]*models.InventoryItem, error)
	ListMovements(ctx context.Context, tenantID uuid.UUID, filter *models.MovementFilter) ([]*models.StockMovement, error)
	MovementsForKey(ctx context.Context, key models.InventoryKey) ([]*models.StockMovement, error)

	GetReservation(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error)
	ListReservations(ctx context.Context, tenantID uuid.UUID, filter *models.ReservationFilter) ([]*models.Reservation, error)
	ListExpiredReservations(ctx context.Context, before time.Time, after *models.ExpiryCursor, limit int) ([]*models.Reservation, error)
	CountActiveReservations(ctx context.Context) (int, error)

	GetTransfer(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error)
	ListTransfers(ctx context.Context, tenantID uuid.UUID, filter *models.TransferFilter) ([]*models.Transfer, error)

	GetLocation(ctx context.Context, tenantID, id uuid.UUID) (*models.Location, error)
	VariantExists(ctx context.Context, tenantID, variantID uuid.UUID) (bool, error)

	DailySales(ctx context.Context, key models.InventoryKey, channel *string, since time.Time) ([]models.DailySales, error)
	ChannelOutcomes(ctx context.Context, tenantID uuid.UUID, channel string, since time.Time) (models.ChannelOutcomes, error)
}

type BufferRuleRepository interface {
	ListBufferRules(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*models.ChannelBufferRule, error)
	SaveBufferRule(ctx context.Context, rule *models.ChannelBufferRule) error
	DeactivateBufferRule(ctx context.Context, tenantID, id uuid.UUID) error
	// ListBufferRuleTenants returns every tenant with at least one active rule.
	ListBufferRuleTenants(ctx context.Context) ([]uuid.UUID, error)
}

// LedgerStore is the persistence boundary of the engine.
type LedgerStore interface {
	LedgerReader
	BufferRuleRepository

	// InTx runs fn in one transaction. It commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
