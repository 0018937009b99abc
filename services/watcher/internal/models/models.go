package models

import (
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"
)

// GenerationResponse models the JSON payload returned by the RTE
// actual_generations_per_unit endpoint.
type GenerationResponse struct {
	Generations []RawObservation `json:"actual_generations_per_unit"`
}

// RawObservation is one measurement group reported for a production unit.
type RawObservation struct {
	StartDate string     `json:"start_date"`
	EndDate   string     `json:"end_date"`
	Unit      RawUnit    `json:"unit"`
	Values    []RawValue `json:"values"`
}

// RawUnit identifies the unit an observation belongs to.
type RawUnit struct {
	EICCode        string `json:"eic_code"`
	Name           string `json:"name"`
	ProductionType string `json:"production_type"`
}

// RawValue is a single interval of a series. EndDate is the observation time.
// Value is kept raw so that coercion failures can be told apart from zero.
type RawValue struct {
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	UpdatedDate string          `json:"updated_date,omitempty"`
	Value       json.RawMessage `json:"value"`
}

// Geometry is a GeoJSON point.
type Geometry struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// NewPoint builds a point geometry from latitude/longitude.
func NewPoint(lat, lon float64) Geometry {
	return Geometry{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Lat returns the latitude of a point geometry.
func (g Geometry) Lat() float64 {
	if len(g.Coordinates) < 2 {
		return 0
	}
	return g.Coordinates[1]
}

// Lon returns the longitude of a point geometry.
func (g Geometry) Lon() float64 {
	if len(g.Coordinates) < 1 {
		return 0
	}
	return g.Coordinates[0]
}

// Valid reports whether the geometry is a usable point.
func (g Geometry) Valid() bool {
	return g.Type == "Point" && len(g.Coordinates) == 2
}

// Unit is a geolocated production unit from the catalog.
type Unit struct {
	Code       string
	Name       string
	PlantID    string
	Geometry   Geometry
	Properties map[string]any
}

// Key returns the identity used for watermarks and storage: the EIC code, or
// the normalized name for catalogs that predate codes.
func (u Unit) Key() string {
	if u.Code != "" {
		return u.Code
	}
	return NormalizeName(u.Name)
}

// Watermark maps a unit key to the most recent stored observation time.
type Watermark map[string]time.Time

// Feature is one new observation ready to be stored.
type Feature struct {
	UnitKey        string
	Code           string
	Name           string
	ProductionType string
	Geometry       Geometry
	Time           time.Time
	Power          *float64
}

// Window is a [Start, End) fetch range.
type Window struct {
	Start time.Time
	End   time.Time
}

// NormalizeName lowercases a name and collapses every run of separators to a
// single space, so "BLAYAIS-1", "blayais_1" and "Blayais 1" compare equal.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSpace := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
