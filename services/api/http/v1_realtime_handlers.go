package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/rte-generation-watcher/services/api/db"
)

// Feature is a GeoJSON feature of the latest generation of a unit.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *PointGeometry `json:"geometry"`
	Properties db.Generation  `json:"properties"`
}

// PointGeometry is a GeoJSON point, [lon, lat].
type PointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps generation rows; rows without a location get a
// null geometry.
func NewFeatureCollection(rows []db.Generation) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(rows))}
	for _, row := range rows {
		f := Feature{Type: "Feature", Properties: row}
		if row.Lat != nil && row.Lon != nil {
			f.Geometry = &PointGeometry{Type: "Point", Coordinates: [2]float64{*row.Lon, *row.Lat}}
		}
		fc.Features = append(fc.Features, f)
	}
	return fc
}

// handleV1RealtimeNow returns the latest generation of every unit
// GET /api/v1/realtime/now
func (s *Server) handleV1RealtimeNow(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	rows, err := s.store.LatestGeneration(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var latest time.Time
	total := 0.0
	for _, row := range rows {
		if row.Time.After(latest) {
			latest = row.Time
		}
		if row.PowerMW != nil {
			total += *row.PowerMW
		}
	}

	meta := gin.H{
		"units_count":    len(rows),
		"total_power_mw": total,
		"generated_at":   s.now().Format(time.RFC3339),
	}
	if !latest.IsZero() {
		meta["timestamp"] = latest.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"data": NewFeatureCollection(rows),
		"meta": meta,
	})
}
