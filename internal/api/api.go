// Package api serves the portfolio over HTTP.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/internal/ingest"
	"github.com/celerix-dev/celerix-dca/internal/metrics"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
	"github.com/celerix-dev/celerix-dca/pkg/sdk"
)

type Handler struct {
	Portfolio sdk.Portfolio
	Metrics   *metrics.Recorder // optional
	Logger    *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h.Logger
}

// Register mounts the API routes under r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	if h.Metrics != nil {
		r.GET("/metrics", h.ServeMetrics)
	}

	api := r.Group("/api")
	{
		api.POST("/cases/import", h.Import)
		api.GET("/cases", h.ListCases)
		api.GET("/cases/:id", h.GetCase)
		api.POST("/cases/:id/status", h.UpdateStatus)
		api.GET("/agencies", h.ListAgencies)
		api.GET("/agencies/:agency/view", h.AgencyView)
		api.GET("/overview", h.Overview)
		api.GET("/audit", h.Audit)
	}
}

// writeError maps engine errors onto HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sdk.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, sdk.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sdk.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	}

	body := gin.H{"error": err.Error()}
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		details := make([]gin.H, 0, len(verr.Errors))
		for _, fe := range verr.Errors {
			details = append(details, gin.H{"row": fe.Row, "field": fe.Field, "message": fe.Message})
		}
		body["details"] = details
	}
	if status == http.StatusInternalServerError {
		h.logger().Error("request failed", "path", c.FullPath(), "error", err)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServeMetrics refreshes the portfolio gauges before each scrape.
func (h *Handler) ServeMetrics(c *gin.Context) {
	if ov, err := h.Portfolio.Overview(c.Request.Context()); err == nil {
		h.Metrics.SetPortfolio(ov)
	}
	h.Metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Import accepts either a multipart upload in field "file" (.csv or .xlsx) or
// a JSON body {source, rows}.
func (h *Handler) Import(c *gin.Context) {
	var (
		source  string
		records []schema.Record
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			h.writeError(c, err)
			return
		}
		defer f.Close()

		records, err = ingest.Decode(fh.Filename, f)
		if err != nil {
			h.writeError(c, err)
			return
		}
		source = fh.Filename
	} else {
		var batch sdk.ImportBatch
		if err := c.ShouldBindJSON(&batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, err := batch.Records()
		if err != nil {
			h.writeError(c, err)
			return
		}
		source, records = batch.Source, rows
		if source == "" {
			source = "api"
		}
	}

	n, err := h.Portfolio.BulkLoad(c.Request.Context(), source, records)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": n, "source": source})
}

func (h *Handler) ListCases(c *gin.Context) {
	cases, err := h.Portfolio.Cases(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cases)
}

func (h *Handler) GetCase(c *gin.Context) {
	cs, err := h.Portfolio.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var input struct {
		Status string `json:"status" binding:"required"`
		Note   string `json:"note"`
		Agency string `json:"agency"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.Portfolio.SubmitUpdate(c.Request.Context(), sdk.UpdateRequest{
		CaseID:       c.Param("id"),
		NewStatus:    schema.Status(input.Status),
		Note:         input.Note,
		ActingAgency: input.Agency,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) ListAgencies(c *gin.Context) {
	c.JSON(http.StatusOK, schema.ServicingAgencies())
}

func (h *Handler) AgencyView(c *gin.Context) {
	view, err := h.Portfolio.ViewFor(c.Request.Context(), schema.Agency(c.Param("agency")), c.Query("search"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Overview(c *gin.Context) {
	ov, err := h.Portfolio.Overview(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (h *Handler) Audit(c *gin.Context) {
	filter := sdk.AuditFilter{User: c.Query("user"), CaseID: c.Query("case_id")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	entries, err := h.Portfolio.AuditLog(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
