package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"bettertactics/internal/selection"
	"bettertactics/internal/service"
	"bettertactics/internal/store"
)

// registerRoutes maps the Service façade 1:1 onto JSON endpoints. The
// wire format itself isn't part of the scheduling/rating core; this just
// gives that core somewhere to run from.
func registerRoutes(e *echo.Echo, svc *service.Service) {
	api := e.Group("/api")

	api.GET("/stats", func(c echo.Context) error {
		stats, err := svc.GetStats(c.Request().Context())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, stats)
	})

	api.GET("/forecast", func(c echo.Context) error {
		days, err := strconv.Atoi(c.QueryParam("days"))
		if err != nil {
			days = 30
		}
		counts, err := svc.GetReviewForecast(c.Request().Context(), days)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, counts)
	})

	api.GET("/rating-history", func(c echo.Context) error {
		points, err := svc.GetRatingHistory(c.Request().Context())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, points)
	})

	api.GET("/histogram", func(c echo.Context) error {
		bucket, err := strconv.Atoi(c.QueryParam("bucket"))
		if err != nil {
			bucket = 100
		}
		cells, err := svc.GetReviewScoreHistogram(c.Request().Context(), bucket)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, cells)
	})

	api.GET("/puzzles/next-review", func(c echo.Context) error {
		result, err := svc.NextReviewPuzzle(c.Request().Context())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, result)
	})

	api.GET("/puzzles/next-new", func(c echo.Context) error {
		result, err := svc.NextNewPuzzle(c.Request().Context())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, result)
	})

	api.GET("/puzzles/:id", func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid puzzle id")
		}
		puzzle, card, err := svc.PuzzleByID(c.Request().Context(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, echo.Map{"puzzle": puzzle, "card": card})
	})

	api.GET("/puzzles/by-source", func(c echo.Context) error {
		puzzle, card, err := svc.PuzzleBySourceID(c.Request().Context(), c.QueryParam("source"), c.QueryParam("source_id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, echo.Map{"puzzle": puzzle, "card": card})
	})

	api.POST("/reviews", func(c echo.Context) error {
		var req struct {
			PuzzleID            int64 `json:"puzzle_id"`
			Difficulty          int   `json:"difficulty"`
			ExpectedReviewCount int   `json:"expected_review_count"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		result, err := svc.SubmitReview(c.Request().Context(), req.PuzzleID, store.Difficulty(req.Difficulty), req.ExpectedReviewCount)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, result)
	})

	api.POST("/skips", func(c echo.Context) error {
		var req struct {
			PuzzleID int64 `json:"puzzle_id"`
			Mode     int   `json:"mode"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := svc.SubmitSkip(c.Request().Context(), req.PuzzleID, selection.SkipMode(req.Mode)); err != nil {
			return httpError(err)
		}
		return c.NoContent(http.StatusNoContent)
	})

	api.GET("/history", func(c echo.Context) error {
		page, err := strconv.Atoi(c.QueryParam("page"))
		if err != nil || page < 1 {
			page = 1
		}
		pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
		entries, err := svc.PuzzleHistory(c.Request().Context(), page, pageSize)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, entries)
	})

	api.POST("/debug/rating", func(c echo.Context) error {
		var req struct {
			Rating int `json:"rating"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := svc.SetRating(c.Request().Context(), req.Rating); err != nil {
			return httpError(err)
		}
		return c.NoContent(http.StatusNoContent)
	})
}

// httpError maps a typed store error onto the matching HTTP status;
// anything else is a 500.
func httpError(err error) error {
	switch {
	case store.NotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case store.Conflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case store.InvalidInput(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case store.Unavailable(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
