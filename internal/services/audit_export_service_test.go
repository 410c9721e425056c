package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"stockledger/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockObjectStore struct {
	mock.Mock
	body []byte
}

func (m *MockObjectStore) PutObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error {
	m.body, _ = io.ReadAll(reader)
	args := m.Called(ctx, objectName, objectSize, contentType)
	return args.Error(0)
}

func (m *MockObjectStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStore) RemoveObject(ctx context.Context, objectName string) error {
	return m.Called(ctx, objectName).Error(0)
}

type AuditExporterTestSuite struct {
	ledgerSuite
	objects  *MockObjectStore
	exporter AuditExporter
}

func TestAuditExporterTestSuite(t *testing.T) {
	suite.Run(t, new(AuditExporterTestSuite))
}

func (s *AuditExporterTestSuite) SetupTest() {
	s.ledgerSuite.SetupTest()
	s.objects = &MockObjectStore{}
	s.objects.Test(s.T())
	s.exporter = NewAuditExporter(s.deps, s.objects)
}

func (s *AuditExporterTestSuite) TearDownTest() {
	s.objects.AssertExpectations(s.T())
}

func (s *AuditExporterTestSuite) TestExport_WritesJSONLines() {
	s.stock(s.locationA, 10, 2)
	s.stock(s.locationB, 4, 0)

	s.objects.On("PutObject", s.ctx, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "movements/"+s.tenantID.String()+"/") && strings.HasSuffix(key, ".jsonl")
	}), mock.AnythingOfType("int64"), "application/x-ndjson").Return(nil).Once()
	s.objects.On("PresignedURL", s.ctx, mock.AnythingOfType("string"), exportURLExpiry).
		Return("https://audit.example/movements.jsonl?sig=abc", nil).Once()

	result, err := s.exporter.Export(s.ctx, s.tenantID, &models.MovementFilter{LocationID: &s.locationA})
	s.Require().NoError(err)
	s.Equal(2, result.Movements)
	s.Equal("https://audit.example/movements.jsonl?sig=abc", result.URL)
	s.Equal(testEpoch.Add(exportURLExpiry), result.ExpiresAt)

	var lines []models.StockMovement
	scanner := bufio.NewScanner(bytes.NewReader(s.objects.body))
	for scanner.Scan() {
		var m models.StockMovement
		s.Require().NoError(json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	s.Require().Len(lines, 2)
	s.Equal(models.ReasonRestock, lines[0].Reason)
	s.Equal(models.ReasonSafetyStockAdjust, lines[1].Reason)
}

func (s *AuditExporterTestSuite) TestExport_UploadFailure() {
	s.objects.On("PutObject", s.ctx, mock.AnythingOfType("string"), int64(0), "application/x-ndjson").
		Return(errors.New("bucket unavailable")).Once()

	_, err := s.exporter.Export(s.ctx, s.tenantID, nil)
	s.ErrorContains(err, "upload audit export")
}

func (s *AuditExporterTestSuite) TestExport_PresignFailureRemovesUpload() {
	var uploaded string
	s.objects.On("PutObject", s.ctx, mock.AnythingOfType("string"), int64(0), "application/x-ndjson").
		Run(func(args mock.Arguments) { uploaded = args.String(1) }).Return(nil).Once()
	s.objects.On("PresignedURL", s.ctx, mock.AnythingOfType("string"), exportURLExpiry).
		Return("", errors.New("signature mismatch")).Once()
	s.objects.On("RemoveObject", s.ctx, mock.MatchedBy(func(key string) bool { return key == uploaded })).
		Return(nil).Once()

	_, err := s.exporter.Export(s.ctx, s.tenantID, nil)
	s.ErrorContains(err, "presign audit export")
}
