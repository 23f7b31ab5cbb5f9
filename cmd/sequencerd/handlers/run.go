package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/astrokit/sequencer/cmd/sequencerd/service"
	"github.com/astrokit/sequencer/common/models"
)

// RunHandler handles run lifecycle and progress requests
type RunHandler struct {
	runs *service.RunService
}

// NewRunHandler creates a new run handler
func NewRunHandler(runs *service.RunService) *RunHandler {
	return &RunHandler{runs: runs}
}

// Start launches a run for a sequence
// POST /api/v1/sequences/:id/runs
func (h *RunHandler) Start(c echo.Context) error {
	sequenceID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	record, err := h.runs.Start(c.Request().Context(), sequenceID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, record)
}

// List returns a sequence's run history
// GET /api/v1/sequences/:id/runs?limit=50
func (h *RunHandler) List(c echo.Context) error {
	sequenceID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	runs, err := h.runs.ListBySequence(c.Request().Context(), sequenceID, limit)
	if err != nil {
		return httpError(c, err)
	}
	if runs == nil {
		runs = []*models.SequenceRun{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// Get returns a run record
// GET /api/v1/runs/:runId
func (h *RunHandler) Get(c echo.Context) error {
	runID, err := parseID(c, "runId")
	if err != nil {
		return err
	}

	record, err := h.runs.Get(c.Request().Context(), runID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// Progress returns the latest progress snapshot for a run
// GET /api/v1/runs/:runId/progress
func (h *RunHandler) Progress(c echo.Context) error {
	runID, err := parseID(c, "runId")
	if err != nil {
		return err
	}

	progress, err := h.runs.Progress(c.Request().Context(), runID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

// Stop requests cancellation of an active run
// POST /api/v1/runs/:runId/stop
func (h *RunHandler) Stop(c echo.Context) error {
	runID, err := parseID(c, "runId")
	if err != nil {
		return err
	}

	if err := h.runs.Stop(c.Request().Context(), runID); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "stopping"})
}

// Pause suspends an active run at the next node boundary
// POST /api/v1/runs/:runId/pause
func (h *RunHandler) Pause(c echo.Context) error {
	runID, err := parseID(c, "runId")
	if err != nil {
		return err
	}

	if err := h.runs.Pause(c.Request().Context(), runID); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

// Resume continues a paused run
// POST /api/v1/runs/:runId/resume
func (h *RunHandler) Resume(c echo.Context) error {
	runID, err := parseID(c, "runId")
	if err != nil {
		return err
	}

	if err := h.runs.Resume(c.Request().Context(), runID); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "running"})
}
