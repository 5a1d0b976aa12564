package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nowwhat/placeagent/internal/agent"
)

// OrchestrateRequest is the caller boundary: one query with an optional
// location hint or coordinate pair.
type OrchestrateRequest struct {
	Query     string  `json:"query"`
	Location  string  `json:"location,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

func (s *Server) orchestrate(c echo.Context) error {
	var req OrchestrateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx := c.Request().Context()

	query := req.Query
	location := req.Location
	var evalTokens agent.TokenUsage
	if s.evaluator != nil {
		ev, usage, err := s.evaluator.EvaluateQuery(ctx, req.Query)
		evalTokens = usage
		switch {
		case err != nil:
			// Evaluation is advisory; run with the raw query when it is
			// unavailable.
			s.logger.Printf("query evaluation unavailable: %v", err)
		case ev.Inappropriate:
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "query rejected as inappropriate")
		case !ev.Valid:
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "query is not answerable as a place search")
		default:
			if ev.Rewritten != "" {
				query = ev.Rewritten
			}
			if location == "" {
				location = ev.Location
			}
		}
	}

	session := agent.NewSession(query, location)
	session.AddTokens(evalTokens)
	result, err := s.loop.Run(ctx, session)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
