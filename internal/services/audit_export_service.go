package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectStore is where audit exports land. storage.MinioStore implements it.
type ObjectStore interface {
	PutObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	RemoveObject(ctx context.Context, objectName string) error
}

type AuditExporter interface {
	Export(ctx context.Context, tenantID uuid.UUID, filter *models.MovementFilter) (*ExportResult, error)
}

type ExportResult struct {
	ObjectKey string    `json:"object_key"`
	URL       string    `json:"url"`
	Movements int       `json:"movements"`
	ExpiresAt time.Time `json:"expires_at"`
}

const (
	exportPageSize  = 1000
	exportURLExpiry = 24 * time.Hour
)

type auditExporter struct {
	*core
	objects ObjectStore
}

func NewAuditExporter(deps Deps, objects ObjectStore) AuditExporter {
	return &auditExporter{core: newCore(deps), objects: objects}
}

// Export writes every movement matching filter as JSON Lines to the audit bucket and returns a
// presigned link to it. Limit and Offset on filter are ignored; the whole range is exported.
func (e *auditExporter) Export(ctx context.Context, tenantID uuid.UUID, filter *models.MovementFilter) (*ExportResult, error) {
	f := models.MovementFilter{}
	if filter != nil {
		f = *filter
	}
	f.Limit = exportPageSize

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for f.Offset = 0; ; f.Offset += exportPageSize {
		page, err := e.store.ListMovements(ctx, tenantID, &f)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if err := enc.Encode(m); err != nil {
				return nil, err
			}
		}
		count += len(page)
		if len(page) < exportPageSize {
			break
		}
	}

	now := e.now()
	key := fmt.Sprintf("movements/%s/%s-%s.jsonl", tenantID, now.Format("20060102T150405Z"), uuid.NewString()[:8])
	if err := e.objects.PutObject(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return nil, fmt.Errorf("upload audit export: %w", err)
	}
	url, err := e.objects.PresignedURL(ctx, key, exportURLExpiry)
	if err != nil {
		if rmErr := e.objects.RemoveObject(ctx, key); rmErr != nil {
			e.logger.Warn("orphaned audit export not removed", zap.String("object", key), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("presign audit export: %w", err)
	}

	e.logger.Info("movements exported", zap.String("tenant_id", tenantID.String()), zap.String("object", key), zap.Int("movements", count))
	return &ExportResult{ObjectKey: key, URL: url, Movements: count, ExpiresAt: now.Add(exportURLExpiry)}, nil
}
