package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dirtree/internal/server/database"
	"dirtree/internal/server/service"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

const formOverhead = 4 << 10

// Runner is the service surface the handlers call.
type Runner interface {
	Execute(ctx context.Context, script string) (*service.RunResult, error)
	Archive(ctx context.Context, script string) ([]byte, error)
	GetInfo(ctx context.Context, id string) (*service.RunInfo, error)
	Transcript(ctx context.Context, id string) (io.ReadCloser, error)
	DeleteRun(ctx context.Context, id string, token string) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the dirtree API.
type Handler struct {
	svc           Runner
	db            HealthChecker
	maxScriptSize int64
}

func NewHandler(svc Runner, db HealthChecker, maxScriptSize int64) *Handler {
	return &Handler{svc: svc, db: db, maxScriptSize: maxScriptSize}
}

// HandleExecute handles POST /api/execute.
// The script is the raw request body, or the "script" field of a form.
func (h *Handler) HandleExecute(c echo.Context) error {
	script, err := h.readScript(c)
	if err != nil {
		return readError(c, err)
	}

	result, err := h.svc.Execute(c.Request().Context(), script)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleArchive handles POST /api/execute/archive.
// Responds with the final tree as a zip of empty directories.
func (h *Handler) HandleArchive(c echo.Context) error {
	script, err := h.readScript(c)
	if err != nil {
		return readError(c, err)
	}

	data, err := h.svc.Archive(c.Request().Context(), script)
	if err != nil {
		return mapServiceError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="tree.zip"`)
	return c.Blob(http.StatusOK, "application/zip", data)
}

// HandleInfo handles GET /api/runs/:id.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.svc.GetInfo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleTranscript handles GET /r/:id.
func (h *Handler) HandleTranscript(c echo.Context) error {
	id := c.Param("id")

	rc, err := h.svc.Transcript(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s.txt"`, id))
	return c.Stream(http.StatusOK, echo.MIMETextPlainCharsetUTF8, rc)
}

// HandleDelete handles DELETE /api/runs/:id/:token.
func (h *Handler) HandleDelete(c echo.Context) error {
	id := c.Param("id")
	token := c.Param("token")

	if err := h.svc.DeleteRun(c.Request().Context(), id, token); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "run deleted successfully",
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_runs":             stats.TotalRuns,
		"active_runs":            stats.ActiveRuns,
		"total_lines":            stats.TotalLines,
		"transcript_bytes":       stats.TranscriptBytes,
		"transcript_bytes_human": humanize.Bytes(uint64(stats.TranscriptBytes)),
	})
}

// readScript reads at most one byte past the size limit so the service can
// still tell an oversize script apart. Form bodies are capped before parsing
// at three times the limit, the worst case for percent-encoding, plus
// formOverhead.
func (h *Handler) readScript(c echo.Context) (string, error) {
	req := c.Request()
	ctype := req.Header.Get(echo.HeaderContentType)

	if strings.HasPrefix(ctype, echo.MIMEApplicationForm) || strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, 3*h.maxScriptSize+formOverhead)
		if _, err := c.FormParams(); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return "", service.ErrScriptTooLarge
			}
			return "", err
		}
		return c.FormValue("script"), nil
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, h.maxScriptSize+1))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// readError answers a failed readScript.
func readError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrScriptTooLarge) {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read script"})
}

// mapServiceError translates service-layer errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "run not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "run has expired"})
	case errors.Is(err, service.ErrTranscriptMissing):
		return c.JSON(http.StatusGone, echo.Map{"error": "transcript is no longer stored"})
	case errors.Is(err, service.ErrInvalidToken):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid deletion token"})
	case errors.Is(err, service.ErrScriptTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "script exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrEmptyScript):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "script is empty"})
	case errors.Is(err, service.ErrUnarchivable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error": "tree contains names that cannot be archived",
		})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
