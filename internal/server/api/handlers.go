package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"gridxfer/internal/core"
	"gridxfer/internal/server/service"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the grid transfer API.
type Handler struct {
	ingest        *service.IngestService
	stats         *service.StatsService
	health        HealthChecker
	maxUploadSize int64
}

// NewHandler creates a new handler. Upload bodies larger than maxUploadSize
// bytes are rejected.
func NewHandler(ingest *service.IngestService, stats *service.StatsService, health HealthChecker, maxUploadSize int64) *Handler {
	return &Handler{
		ingest:        ingest,
		stats:         stats,
		health:        health,
		maxUploadSize: maxUploadSize,
	}
}

// HandleUpload handles POST /grid-transfers/upload.
//
// A multipart "logfile" field is ingested (200 on success or when the
// content was seen before). Without a file, the "sha1hash" field is a probe:
// 200 when the digest is known, 204 when it is not.
func (h *Handler) HandleUpload(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		return textError(c, "Only POST accepted here")
	}

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxUploadSize)

	fileHeader, err := c.FormFile("logfile")
	if err == nil {
		return h.ingestFile(c, fileHeader)
	}
	if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		slog.Warn("upload failed", "error", err, "ip", c.RealIP())
		return textError(c, fmt.Sprintf("Upload failed: %v", err))
	}

	hash := c.FormValue("sha1hash")
	if hash == "" {
		return textError(c, "Missing input: file upload (logfile) or form input (sha1hash)")
	}

	result, err := h.ingest.Probe(req.Context(), hash)
	if err != nil {
		return mapServiceError(c, err)
	}
	return respondOutcome(c, result.Outcome)
}

func (h *Handler) ingestFile(c echo.Context, fileHeader *multipart.FileHeader) error {
	src, err := fileHeader.Open()
	if err != nil {
		slog.Error("failed to open uploaded file", "error", err)
		return textError(c, "Unable to open uploaded file for reading")
	}
	defer src.Close()

	submittedBy, _ := c.Get(uploadUserKey).(string)

	result, err := h.ingest.Ingest(c.Request().Context(), src, submittedBy)
	if err != nil {
		return mapServiceError(c, err)
	}
	return respondOutcome(c, result.Outcome)
}

// HandleStats handles GET /grid-transfers/stats/{stat_type}/{args...}.
func (h *Handler) HandleStats(c echo.Context) error {
	if c.Request().Method != http.MethodGet {
		return textError(c, "Only GET accepted here")
	}

	elements := strings.Split(strings.Trim(c.Param("*"), "/"), "/")

	report, err := h.stats.Generate(c.Request().Context(), elements[0], elements[1:])
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

func respondOutcome(c echo.Context, outcome service.Outcome) error {
	if outcome == service.OutcomeUnknown {
		return c.NoContent(http.StatusNoContent)
	}
	return c.NoContent(http.StatusOK)
}

// mapServiceError translates service-layer errors into 400 responses.
// Store failures are logged in full and reported by stage only.
func mapServiceError(c echo.Context, err error) error {
	var ve *core.ValidationError
	var se *core.StageError
	switch {
	case errors.As(err, &ve):
		return textError(c, ve.Cause)
	case errors.As(err, &se):
		slog.Error(se.Stage,
			"error", se.Err,
			"path", c.Request().URL.Path,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		return textError(c, se.Stage)
	default:
		slog.Error("request failed", "error", err, "path", c.Request().URL.Path)
		return textError(c, "Internal error")
	}
}

func textError(c echo.Context, msg string) error {
	return c.String(http.StatusBadRequest, msg+"\n")
}
