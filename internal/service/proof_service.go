package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/campusflow/od-approval-api/internal/dto"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
	"github.com/campusflow/od-approval-api/pkg/storage"
)

type proofAttacher interface {
	AttachProof(ctx context.Context, requesterUserID, requestID, proof string) error
}

type proofStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (storageFile, error)
}

// storageFile is the minimal read handle returned by the local store.
type storageFile interface {
	Read(p []byte) (int, error)
	Close() error
}

// localProofStorage adapts pkg/storage.LocalStorage to the narrow interface.
type localProofStorage struct {
	store *storage.LocalStorage
}

func (l *localProofStorage) Save(filename string, data []byte) (string, error) {
	return l.store.Save(filename, data)
}

func (l *localProofStorage) Open(filename string) (storageFile, error) {
	return l.store.Open(filename)
}

// NewLocalProofStorage wraps a LocalStorage for proof handling.
func NewLocalProofStorage(store *storage.LocalStorage) *localProofStorage { //nolint:revive
	return &localProofStorage{store: store}
}

// ProofConfig constrains proof uploads.
type ProofConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ProofService stores proof-of-OD attachments and issues signed download URLs.
type ProofService struct {
	workflow proofAttacher
	store    proofStorage
	signer   *storage.SignedURLSigner
	cfg      ProofConfig
	logger   *zap.Logger
}

// NewProofService constructs the service.
func NewProofService(workflow proofAttacher, store proofStorage, signer *storage.SignedURLSigner, cfg ProofConfig, logger *zap.Logger) *ProofService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProofService{workflow: workflow, store: store, signer: signer, cfg: cfg, logger: logger}
}

// Upload validates and stores the attachment, records the reference on the
// request, and returns a signed download URL.
func (s *ProofService) Upload(ctx context.Context, requesterUserID, requestID, filename, contentType string, data []byte) (*dto.ProofUploadResponse, error) {
	if len(data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if s.cfg.MaxFileSizeBytes > 0 && int64(len(data)) > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds maximum size of %d bytes", s.cfg.MaxFileSizeBytes))
	}
	if len(s.cfg.AllowedMIMEs) > 0 && !containsString(s.cfg.AllowedMIMEs, contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("unsupported content type: %s", contentType))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	relPath := fmt.Sprintf("%s/proof%s", requestID, ext)
	stored, err := s.store.Save(relPath, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store proof file")
	}

	if err := s.workflow.AttachProof(ctx, requesterUserID, requestID, stored); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(requestID, stored)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign proof url")
	}
	s.logger.Info("proof attached", zap.String("request_id", requestID), zap.String("path", stored))
	return &dto.ProofUploadResponse{
		RequestID: requestID,
		Proof:     stored,
		SignedURL: fmt.Sprintf("/proofs/download?token=%s", token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenByToken validates a signed token and opens the referenced file.
func (s *ProofService) OpenByToken(token string) (io.ReadCloser, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.ErrNotFound
	}
	return file, filepath.Base(relPath), nil
}
