package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/rte-generation-watcher/services/api/db"
)

// handleV1ListUnits returns all units
// GET /api/v1/core/units
func (s *Server) handleV1ListUnits(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	units, err := s.store.ListUnits(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": units,
		"meta": gin.H{
			"count": len(units),
		},
	})
}

// handleV1GetUnit returns details for a specific unit
// GET /api/v1/core/units/:code
func (s *Server) handleV1GetUnit(c *gin.Context) {
	code := c.Param("code")

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	unit, err := s.store.GetUnit(ctx, code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if unit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": unit,
	})
}

// handleV1UnitGeneration returns the generation history of a unit.
// GET /api/v1/core/units/:code/generation?start=&end=&last_n=&last_n_days=
//
// start/end are RFC 3339 and take precedence over last_n_days. Without any
// range the last API_DEFAULT_DAYS days are returned. last_n keeps the most
// recent n rows of the range, defaulting to API_DEFAULT_LIMIT.
func (s *Server) handleV1UnitGeneration(c *gin.Context) {
	q, err := s.generationQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	rows, err := s.store.FetchGeneration(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	meta := gin.H{
		"count": len(rows),
		"limit": q.Limit,
	}
	if q.Since != nil {
		meta["start"] = q.Since.Format(time.RFC3339)
	}
	if q.Until != nil {
		meta["end"] = q.Until.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"unit_key": q.UnitKey,
		"data":     rows,
		"meta":     meta,
	})
}

func (s *Server) generationQuery(c *gin.Context) (db.GenerationQuery, error) {
	q := db.GenerationQuery{UnitKey: c.Param("code"), Limit: s.cfg.DefaultLimit}

	if limitStr := c.Query("last_n"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return q, errors.New("invalid last_n")
		}
		q.Limit = parsed
	}

	days := s.cfg.DefaultDays
	if daysStr := c.Query("last_n_days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed <= 0 {
			return q, errors.New("invalid last_n_days")
		}
		days = parsed
	}

	if startStr := c.Query("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return q, errors.New("invalid start timestamp")
		}
		tt := t.UTC()
		q.Since = &tt
	}

	if endStr := c.Query("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return q, errors.New("invalid end timestamp")
		}
		tt := t.UTC()
		q.Until = &tt
	}

	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return q, errors.New("end is before start")
	}

	if q.Since == nil {
		ref := s.now()
		if q.Until != nil {
			ref = *q.Until
		}
		since := ref.Add(-time.Duration(days) * 24 * time.Hour)
		q.Since = &since
	}

	return q, nil
}
