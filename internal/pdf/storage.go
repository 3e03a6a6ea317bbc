package pdf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"go.uber.org/zap"
)

// Storage writes ingested documents to the local filesystem, one directory
// per workflow.
type Storage struct {
	baseDir string
	logger  *zap.Logger
}

// NewStorage creates a document store rooted at baseDir.
func NewStorage(baseDir string, logger *zap.Logger) *Storage {
	return &Storage{baseDir: baseDir, logger: logger}
}

// Store persists the raw document and returns its path.
func (s *Storage) Store(data []byte, workflowID, filename string) (string, error) {
	if filename == "" {
		filename = "contract.pdf"
	}

	dir := filepath.Join(s.baseDir, workflowID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("Failed to create storage directory",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return "", apperr.Wrap(apperr.CodeDBConnectionError, "failed to create storage directory", true, err)
	}

	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("Failed to store PDF",
			zap.String("workflow_id", workflowID),
			zap.String("path", path),
			zap.Error(err))
		return "", apperr.Wrap(apperr.CodeDBConnectionError, fmt.Sprintf("failed to store PDF at %s", path), true, err)
	}

	s.logger.Info("PDF stored",
		zap.String("workflow_id", workflowID),
		zap.String("path", path),
		zap.Int("size_bytes", len(data)))
	return path, nil
}
