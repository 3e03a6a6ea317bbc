package api

import (
	"net/http"

	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/internal/pipeline"
	"github.com/garyjia/contract-pipeline/internal/review"
	"github.com/garyjia/contract-pipeline/internal/workflow"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the pipeline over HTTP.
type Handler struct {
	pipeline *pipeline.Service
	machine  *workflow.Service
	reviews  *review.Manager
	logger   *zap.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(p *pipeline.Service, machine *workflow.Service, reviews *review.Manager, logger *zap.Logger) *Handler {
	return &Handler{pipeline: p, machine: machine, reviews: reviews, logger: logger}
}

// IngestRequest is the upload payload for a new contract document.
type IngestRequest struct {
	PDFBase64 string `json:"pdfBase64" binding:"required"`
	Vertical  string `json:"vertical" binding:"required"`
	Filename  string `json:"filename"`
}

// Ingest handles POST /workflows/ingest.
func (h *Handler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingErr(c, err)
		return
	}

	result, err := h.pipeline.Ingest(c.Request.Context(), pipeline.IngestInput{
		PDFBase64:    req.PDFBase64,
		VerticalSlug: req.Vertical,
		Filename:     req.Filename,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusCreated, result)
}

// ExtractRequest carries the parsed document text into the extraction step.
type ExtractRequest struct {
	PDFText  string `json:"pdfText" binding:"required"`
	Vertical string `json:"vertical" binding:"required"`
}

// Extract handles POST /workflows/:id/extract.
func (h *Handler) Extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingErr(c, err)
		return
	}

	result, err := h.pipeline.Extract(c.Request.Context(), c.Param("id"), req.PDFText, req.Vertical)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// Compare handles POST /workflows/:id/compare.
func (h *Handler) Compare(c *gin.Context) {
	result, err := h.pipeline.Compare(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// Status handles GET /workflows/:id.
func (h *Handler) Status(c *gin.Context) {
	result, err := h.pipeline.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"workflow": result.Workflow,
		"contract": result.Contract,
	})
}

// History handles GET /workflows/:id/history.
func (h *Handler) History(c *gin.Context) {
	entries, err := h.machine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, entries)
}

// ReviewRequest is a human review decision for a workflow's pending task.
type ReviewRequest struct {
	Action        string                 `json:"action" binding:"required,oneof=approve reject correct timeout"`
	CorrectedData map[string]interface{} `json:"correctedData"`
	Notes         *string                `json:"notes"`
}

// Review handles POST /workflows/:id/review. The decision applies to the
// workflow's pending task; correct requires correctedData.
func (h *Handler) Review(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingErr(c, err)
		return
	}

	ctx := c.Request.Context()
	task, err := h.reviews.PendingForWorkflow(ctx, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	var resolved *entity.ReviewTask
	switch req.Action {
	case "approve":
		resolved, err = h.reviews.Approve(ctx, task.ID, req.Notes)
	case "reject":
		resolved, err = h.reviews.Reject(ctx, task.ID, req.Notes)
	case "timeout":
		resolved, err = h.reviews.Timeout(ctx, task.ID)
	case "correct":
		if len(req.CorrectedData) == 0 {
			respondBindingErr(c, errMissingCorrectedData)
			return
		}
		resolved, err = h.reviews.Correct(ctx, task.ID, req.CorrectedData, req.Notes)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, resolved)
}

// PendingReviews handles GET /reviews/pending.
func (h *Handler) PendingReviews(c *gin.Context) {
	tasks, err := h.reviews.Pending(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, http.StatusOK, tasks)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
