package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/astrokit/sequencer/cmd/sequencerd/service"
	"github.com/astrokit/sequencer/common/models"
)

// SequenceHandler handles sequence CRUD, validation and estimation requests
type SequenceHandler struct {
	sequences *service.SequenceService
}

// NewSequenceHandler creates a new sequence handler
func NewSequenceHandler(sequences *service.SequenceService) *SequenceHandler {
	return &SequenceHandler{sequences: sequences}
}

// httpError maps service errors onto HTTP statuses
func httpError(c echo.Context, err error) error {
	var vErr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, service.ErrSequenceLeased):
		return c.JSON(http.StatusConflict, map[string]string{"error": "sequence has an active run"})
	case errors.Is(err, service.ErrRunNotActive):
		return c.JSON(http.StatusConflict, map[string]string{"error": "run is not active"})
	case errors.As(err, &vErr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":      "preflight validation failed",
			"validation": vErr.Result,
		})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// Create creates a sequence
// POST /api/v1/sequences
func (h *SequenceHandler) Create(c echo.Context) error {
	var in service.CreateInput
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := h.sequences.Create(c.Request().Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrSequenceLeased) {
			return httpError(c, err)
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, rec)
}

// Get returns a sequence record including its document
// GET /api/v1/sequences/:id
func (h *SequenceHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	rec, _, err := h.sequences.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}

	// Splice the raw document into the response so clients see the tree,
	// not a base64 blob.
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":          rec.ID,
		"name":        rec.Name,
		"description": rec.Description,
		"isTemplate":  rec.IsTemplate,
		"createdAt":   rec.CreatedAt,
		"updatedAt":   rec.UpdatedAt,
		"document":    json.RawMessage(rec.Document),
	})
}

// List returns sequence summaries
// GET /api/v1/sequences?templates=true&limit=50
func (h *SequenceHandler) List(c echo.Context) error {
	templatesOnly := c.QueryParam("templates") == "true"
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	summaries, err := h.sequences.List(c.Request().Context(), templatesOnly, limit)
	if err != nil {
		return httpError(c, err)
	}
	if summaries == nil {
		summaries = []*models.SequenceSummary{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sequences": summaries})
}

// Update replaces a sequence's document and metadata
// PUT /api/v1/sequences/:id
func (h *SequenceHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var in service.UpdateInput
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := h.sequences.Update(c.Request().Context(), id, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Patch applies an RFC 6902 JSON patch to the stored document
// PATCH /api/v1/sequences/:id
func (h *SequenceHandler) Patch(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read request body")
	}

	rec, err := h.sequences.Patch(c.Request().Context(), id, body)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrSequenceLeased) {
			return httpError(c, err)
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, rec)
}

// Delete removes a sequence and its run history
// DELETE /api/v1/sequences/:id
func (h *SequenceHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.sequences.Delete(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Validate runs the preflight checks
// POST /api/v1/sequences/:id/validate
func (h *SequenceHandler) Validate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	result, err := h.sequences.Validate(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":  result.IsValid(),
		"issues": result.Issues,
	})
}

// Estimate returns the planned integration time
// GET /api/v1/sequences/:id/estimate
func (h *SequenceHandler) Estimate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	estimate, err := h.sequences.Estimate(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, estimate)
}
