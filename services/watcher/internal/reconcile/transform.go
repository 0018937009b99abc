package reconcile

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

// Candidate is a raw observation and, once resolved, its catalog unit.
type Candidate struct {
	Observation models.RawObservation
	Unit        models.Unit
	Resolved    bool
}

// Batch is the value threaded through the transforms.
type Batch struct {
	Candidates []Candidate
	Features   []models.Feature
	Stats      Stats
}

// Transform is one named step of the pipeline. Transforms return a new batch
// and leave their input untouched.
type Transform func(b Batch, rc Context) Batch

// NewBatch wraps raw observations into the initial batch.
func NewBatch(raw []models.RawObservation, rc Context) Batch {
	b := Batch{Candidates: make([]Candidate, 0, len(raw))}
	for _, obs := range raw {
		b.Candidates = append(b.Candidates, Candidate{Observation: obs})
		b.Stats.Values += len(obs.Values)
	}
	b.Stats.Observations = len(raw)
	b.Stats.WatermarkSize = len(rc.Watermark)
	if rc.Catalog != nil {
		b.Stats.CatalogSize = rc.Catalog.Len()
	}
	return b
}

// FilterProductionTypes drops observations whose production type is not in
// the allow-list. An empty allow-list keeps everything.
func FilterProductionTypes(b Batch, rc Context) Batch {
	if len(rc.ProductionTypes) == 0 {
		return b
	}
	allowed := make(map[string]struct{}, len(rc.ProductionTypes))
	for _, pt := range rc.ProductionTypes {
		allowed[strings.ToUpper(strings.TrimSpace(pt))] = struct{}{}
	}

	out := b
	out.Candidates = make([]Candidate, 0, len(b.Candidates))
	for _, c := range b.Candidates {
		pt := strings.ToUpper(strings.TrimSpace(c.Observation.Unit.ProductionType))
		if _, ok := allowed[pt]; !ok {
			out.Stats.FilteredType++
			continue
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out
}

// ResolveUnits attaches the catalog unit to each observation and drops the
// ones the catalog does not know.
func ResolveUnits(b Batch, rc Context) Batch {
	out := b
	out.Candidates = make([]Candidate, 0, len(b.Candidates))
	for _, c := range b.Candidates {
		if rc.Catalog == nil {
			out.Stats.Unresolved++
			continue
		}
		unit, ok := rc.Catalog.Lookup(c.Observation.Unit)
		if !ok {
			out.Stats.Unresolved++
			continue
		}
		c.Unit = unit
		c.Resolved = true
		out.Candidates = append(out.Candidates, c)
	}
	return out
}

// EmitNewValues turns every value of a resolved observation that is strictly
// after the unit watermark into a feature. Equal timestamps count as already
// stored.
func EmitNewValues(b Batch, rc Context) Batch {
	out := b
	out.Features = append(make([]models.Feature, 0, len(b.Features)+b.Stats.Values), b.Features...)

	for _, c := range b.Candidates {
		if !c.Resolved {
			continue
		}
		key := c.Unit.Key()
		mark, hasMark := rc.Watermark[key]

		for _, v := range c.Observation.Values {
			ts, err := ParseTime(v.EndDate)
			if err != nil {
				out.Stats.InvalidTime++
				continue
			}
			if hasMark && !ts.After(mark) {
				out.Stats.Stale++
				continue
			}

			var power *float64
			if f, ok := CoerceValue(v.Value); ok {
				power = &f
			} else {
				out.Stats.InvalidValue++
				if rc.InvalidValues != config.InvalidValueNull {
					continue
				}
			}

			out.Features = append(out.Features, models.Feature{
				UnitKey:        key,
				Code:           c.Unit.Code,
				Name:           c.Unit.Name,
				ProductionType: c.Observation.Unit.ProductionType,
				Geometry:       c.Unit.Geometry,
				Time:           ts,
				Power:          power,
			})
		}
	}
	return out
}

// DedupeFeatures keeps the first feature for each (unit key, time) pair.
func DedupeFeatures(b Batch, _ Context) Batch {
	type featureKey struct {
		unit string
		ts   int64
	}

	out := b
	out.Features = make([]models.Feature, 0, len(b.Features))
	seen := make(map[featureKey]struct{}, len(b.Features))
	for _, f := range b.Features {
		k := featureKey{unit: f.UnitKey, ts: f.Time.UnixNano()}
		if _, dup := seen[k]; dup {
			out.Stats.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		out.Features = append(out.Features, f)
	}
	return out
}

// ParseTime parses an RFC 3339 timestamp as a UTC instant.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// CoerceValue converts a JSON number or numeric string to a finite float64.
// null, empty strings, booleans and anything non-numeric report false; they
// are never read as zero.
func CoerceValue(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal([]byte(s), &str); err != nil {
			return 0, false
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}

	var f float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return 0, false
	}
	return f, true
}
