package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sentrakit/agentcore/internal/registry"
)

func (s *Server) listTools(c echo.Context) error {
	return c.JSON(http.StatusOK, s.launcher.ListAvailableTools())
}

func (s *Server) listCooldowns(c echo.Context) error {
	states := s.registry.ActiveCooldowns(c.Request().Context())
	if states == nil {
		states = []registry.CooldownState{}
	}
	return c.JSON(http.StatusOK, states)
}

func (s *Server) costs(c echo.Context) error {
	perModel, total, tokens := s.telemetry.CostSummary()
	if perModel == nil {
		perModel = map[string]float64{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"per_model":    perModel,
		"total_cost":   total,
		"total_tokens": tokens,
	})
}

func (s *Server) listRuns(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run persistence not configured")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := s.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run persistence not configured")
	}
	rec, entries, err := s.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil && err != sql.ErrNoRows {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	history := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		history = append(history, e.Entry)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":     rec,
		"history": history,
	})
}

type startRunRequest struct {
	Objective    string   `json:"objective"`
	Tenant       string   `json:"tenant,omitempty"`
	Conversation []string `json:"conversation,omitempty"`
}

// startRun executes a run synchronously and returns its full result. Long
// objectives are expected to be driven by clients that can hold the
// connection; background scheduling is out of scope for the admin API.
func (s *Server) startRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Objective == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "objective is required")
	}
	result := s.launcher.Run(c.Request().Context(), req.Objective, registry.CallOptions{Tenant: req.Tenant}, req.Conversation)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) reloadPlugins(c echo.Context) error {
	s.registry.ReloadPlugins()
	if err := s.registry.RefreshExternal(c.Request().Context()); err != nil {
		s.logger.Printf("external refresh during reload: %v", err)
	}
	return c.JSON(http.StatusOK, map[string]int{"tools": len(s.registry.Tools())})
}

type reloadEnvsRequest struct {
	Envs map[string]map[string]string `json:"envs"`
}

func (s *Server) reloadEnvs(c echo.Context) error {
	var req reloadEnvsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Envs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "envs is required")
	}
	s.registry.ReloadEnvs(req.Envs)
	return c.NoContent(http.StatusOK)
}
