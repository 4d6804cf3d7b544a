package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusflow/od-approval-api/internal/dto"
	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/export"
)

type registerSourceStub struct {
	views []dto.RequestView
}

func (s *registerSourceStub) AllRequests(ctx context.Context, query dto.RequestQuery) ([]dto.RequestView, *models.Pagination, error) {
	return s.views, &models.Pagination{Page: 1, PageSize: 50, TotalCount: len(s.views)}, nil
}

func registerFixtureViews() []dto.RequestView {
	return []dto.RequestView{
		{
			Request: models.Request{
				ID:            "req-1",
				Type:          models.RequestTypeOD,
				Reason:        "hackathon",
				StartDate:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
				EndDate:       time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
				RequestedByID: "user-1",
			},
			Approvals:     []models.Approval{{ID: "appr-1", Status: models.ApprovalStatusApproved}},
			DerivedStatus: models.ApprovalStatusApproved,
		},
	}
}

func TestExportServiceRendersCSVRegister(t *testing.T) {
	source := &registerSourceStub{views: registerFixtureViews()}
	svc := NewExportService(source, export.NewCSVExporter(), export.NewPDFExporter(), nil)

	result, err := svc.RenderRegister(context.Background(), dto.RequestQuery{}, "csv")
	require.NoError(t, err)
	require.Equal(t, "text/csv", result.ContentType)
	require.True(t, strings.HasPrefix(result.Filename, "od-register-"))

	content := string(result.Data)
	require.Contains(t, content, "Request ID")
	require.Contains(t, content, "req-1")
	require.Contains(t, content, "APPROVED")
}

func TestExportServiceRendersPDFRegister(t *testing.T) {
	source := &registerSourceStub{views: registerFixtureViews()}
	svc := NewExportService(source, export.NewCSVExporter(), export.NewPDFExporter(), nil)

	result, err := svc.RenderRegister(context.Background(), dto.RequestQuery{}, "pdf")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", result.ContentType)
	require.NotEmpty(t, result.Data)
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&registerSourceStub{}, export.NewCSVExporter(), export.NewPDFExporter(), nil)

	_, err := svc.RenderRegister(context.Background(), dto.RequestQuery{}, "xlsx")
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
