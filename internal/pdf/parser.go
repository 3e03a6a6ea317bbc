package pdf

import (
	"fmt"
	"strings"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// DefaultMaxSizeBytes caps accepted documents at 10MB.
const DefaultMaxSizeBytes = 10 * 1024 * 1024

// Parser extracts plain text from PDF bytes.
type Parser struct {
	maxSizeBytes int
	logger       *zap.Logger
}

// NewParser creates a PDF text parser. A non-positive maxSizeBytes falls back
// to DefaultMaxSizeBytes.
func NewParser(maxSizeBytes int, logger *zap.Logger) *Parser {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}
	return &Parser{maxSizeBytes: maxSizeBytes, logger: logger}
}

// ExtractText returns the concatenated page text of the document.
func (p *Parser) ExtractText(data []byte, workflowID string) (string, error) {
	if len(data) > p.maxSizeBytes {
		p.logger.Error("PDF exceeds size limit",
			zap.String("workflow_id", workflowID),
			zap.Int("size_bytes", len(data)))
		return "", apperr.New(apperr.CodePDFTooLarge,
			fmt.Sprintf("PDF size %d bytes exceeds %d byte limit", len(data), p.maxSizeBytes), false)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		p.logger.Error("Failed to parse PDF",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return "", apperr.Wrap(apperr.CodePDFParseFailed, "failed to parse PDF document", false, err)
	}
	defer doc.Close()

	var parts []string
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			p.logger.Error("Failed to extract text from PDF page",
				zap.String("workflow_id", workflowID),
				zap.Int("page", i),
				zap.Error(err))
			return "", apperr.Wrap(apperr.CodePDFParseFailed, "failed to extract text from PDF", false, err)
		}
		parts = append(parts, text)
	}

	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		p.logger.Error("PDF contains no extractable text",
			zap.String("workflow_id", workflowID))
		return "", apperr.New(apperr.CodePDFEmpty, "PDF contains no extractable text", false)
	}

	p.logger.Info("PDF text extracted",
		zap.String("workflow_id", workflowID),
		zap.Int("pages", doc.NumPage()),
		zap.Int("text_length", len(text)))
	return text, nil
}
