package utils

import (
	"fmt"
	"sort"
	"time"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

// UnitKeys returns the distinct unit keys of features, sorted.
func UnitKeys(features []models.Feature) []string {
	seen := make(map[string]struct{}, len(features))
	keys := make([]string, 0, len(features))
	for _, f := range features {
		if _, ok := seen[f.UnitKey]; ok {
			continue
		}
		seen[f.UnitKey] = struct{}{}
		keys = append(keys, f.UnitKey)
	}
	sort.Strings(keys)
	return keys
}

// AdvancedWatermark returns, per unit, the latest feature time carrying a
// power value. It is what the next run will read back from the store.
func AdvancedWatermark(features []models.Feature) models.Watermark {
	wm := make(models.Watermark)
	for _, f := range features {
		if f.Power == nil {
			continue
		}
		if prev, ok := wm[f.UnitKey]; !ok || f.Time.After(prev) {
			wm[f.UnitKey] = f.Time
		}
	}
	return wm
}

// TimeRange returns the earliest and latest feature times.
func TimeRange(features []models.Feature) (first, last time.Time) {
	for i, f := range features {
		if i == 0 || f.Time.Before(first) {
			first = f.Time
		}
		if i == 0 || f.Time.After(last) {
			last = f.Time
		}
	}
	return first, last
}

// PowerString prints optional power values for logging.
func PowerString(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.3f", *v)
}
