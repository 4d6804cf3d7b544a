package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/od-approval-api/internal/dto"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/response"
)

type proofManager interface {
	Upload(ctx context.Context, requesterUserID, requestID, filename, contentType string, data []byte) (*dto.ProofUploadResponse, error)
	OpenByToken(token string) (io.ReadCloser, string, error)
}

// ProofHandler exposes proof-of-attendance upload and signed download.
type ProofHandler struct {
	proofs proofManager
}

// NewProofHandler constructs the handler.
func NewProofHandler(proofs proofManager) *ProofHandler {
	return &ProofHandler{proofs: proofs}
}

// Upload godoc
// @Summary Attach a proof file to the caller's OD request
// @Tags Proofs
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Request ID"
// @Param file formData file true "Proof file"
// @Success 201 {object} response.Envelope
// @Router /requests/{id}/proof [post]
func (h *ProofHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "failed to read uploaded file"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "failed to read uploaded file"))
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	result, err := h.proofs.Upload(c.Request.Context(), claims.UserID, c.Param("id"), fileHeader.Filename, contentType, data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil)
}

// Download godoc
// @Summary Download a proof file via signed token
// @Tags Proofs
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /proofs/download [get]
func (h *ProofHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, filename, err := h.proofs.OpenByToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}
