package reconcile

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/catalog"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time { return day.Add(time.Duration(hour) * time.Hour) }

type pair struct {
	ts    string
	value string
}

func p(hour int, value string) pair {
	return pair{ts: at(hour).Format(time.RFC3339), value: value}
}

func obs(code, productionType string, pairs ...pair) models.RawObservation {
	o := models.RawObservation{
		Unit: models.RawUnit{EICCode: code, Name: "unit " + code, ProductionType: productionType},
	}
	for _, pr := range pairs {
		o.Values = append(o.Values, models.RawValue{EndDate: pr.ts, Value: json.RawMessage(pr.value)})
	}
	return o
}

func testCatalog(codes ...string) *catalog.Catalog {
	units := make([]models.Unit, 0, len(codes))
	for i, code := range codes {
		units = append(units, models.Unit{
			Code:     code,
			Name:     "unit " + code,
			Geometry: models.NewPoint(45+float64(i), 2),
		})
	}
	return catalog.New(units, config.MatchExactCode)
}

func reconcileWith(raw []models.RawObservation, rc Context) Result {
	return New().Reconcile(context.Background(), raw, rc)
}

func TestReconcileKeepsOnlyValuesAfterWatermark(t *testing.T) {
	raw := []models.RawObservation{obs("A", "NUCLEAR", p(10, "5.0"), p(11, "6.0"))}
	res := reconcileWith(raw, Context{
		Catalog:         testCatalog("A"),
		Watermark:       models.Watermark{"A": at(10)},
		ProductionTypes: []string{"NUCLEAR"},
	})

	require.Len(t, res.Features, 1)
	f := res.Features[0]
	assert.Equal(t, at(11), f.Time)
	require.NotNil(t, f.Power)
	assert.Equal(t, 6.0, *f.Power)
	assert.Equal(t, "A", f.Code)
	assert.Equal(t, "A", f.UnitKey)
	assert.Equal(t, "unit A", f.Name)
	assert.Equal(t, models.NewPoint(45, 2), f.Geometry)
	assert.Equal(t, 1, res.Stats.Stale)
	assert.Equal(t, 1, res.Stats.Features)
}

func TestReconcileDropsUnknownUnits(t *testing.T) {
	raw := []models.RawObservation{obs("A", "NUCLEAR", p(10, "5.0"), p(11, "6.0"))}
	res := reconcileWith(raw, Context{
		Catalog:         testCatalog("B"),
		Watermark:       models.Watermark{"A": at(10)},
		ProductionTypes: []string{"NUCLEAR"},
	})

	assert.Empty(t, res.Features)
	assert.NotNil(t, res.Features)
	assert.Equal(t, 1, res.Stats.Unresolved)
}

func TestReconcileFiltersProductionTypeRegardlessOfWatermark(t *testing.T) {
	raw := []models.RawObservation{obs("A", "NUCLEAR", p(10, "5.0"), p(11, "6.0"))}
	for _, wm := range []models.Watermark{nil, {"A": at(0)}} {
		res := reconcileWith(raw, Context{
			Catalog:         testCatalog("A"),
			Watermark:       wm,
			ProductionTypes: []string{"WIND"},
		})
		assert.Empty(t, res.Features)
		assert.Equal(t, 1, res.Stats.FilteredType)
	}
}

func TestReconcileEmptyFilterKeepsAllTypes(t *testing.T) {
	raw := []models.RawObservation{
		obs("A", "NUCLEAR", p(1, "1")),
		obs("B", "WIND_ONSHORE", p(1, "2")),
		obs("C", "", p(1, "3")),
	}
	for _, filter := range [][]string{nil, {}} {
		res := reconcileWith(raw, Context{Catalog: testCatalog("A", "B", "C"), ProductionTypes: filter})
		assert.Len(t, res.Features, 3)
		assert.Zero(t, res.Stats.FilteredType)
	}
}

func TestReconcileProductionTypeIsCaseInsensitive(t *testing.T) {
	raw := []models.RawObservation{obs("A", "nuclear", p(1, "1"))}
	res := reconcileWith(raw, Context{Catalog: testCatalog("A"), ProductionTypes: []string{"NUCLEAR"}})
	assert.Len(t, res.Features, 1)
}

func TestReconcileTieWithWatermarkIsDropped(t *testing.T) {
	raw := []models.RawObservation{obs("A", "NUCLEAR", p(10, "5"))}
	res := reconcileWith(raw, Context{
		Catalog:   testCatalog("A"),
		Watermark: models.Watermark{"A": at(10)},
	})
	assert.Empty(t, res.Features)
	assert.Equal(t, 1, res.Stats.Stale)
}

func TestReconcileComparesInstantsAcrossOffsets(t *testing.T) {
	// 11:00+01:00 is 10:00Z, equal to the watermark.
	raw := []models.RawObservation{{
		Unit: models.RawUnit{EICCode: "A", ProductionType: "NUCLEAR"},
		Values: []models.RawValue{
			{EndDate: "2024-03-10T11:00:00+01:00", Value: json.RawMessage("1")},
			{EndDate: "2024-03-10T12:00:00+01:00", Value: json.RawMessage("2")},
		},
	}}
	res := reconcileWith(raw, Context{Catalog: testCatalog("A"), Watermark: models.Watermark{"A": at(10)}})

	require.Len(t, res.Features, 1)
	assert.Equal(t, at(11), res.Features[0].Time)
	assert.Equal(t, time.UTC, res.Features[0].Time.Location())
}

func TestReconcileMalformedTimestampDropsOnlyThatPair(t *testing.T) {
	raw := []models.RawObservation{obs("A", "NUCLEAR",
		pair{ts: "10/03/2024 10:00", value: "1"},
		pair{ts: "", value: "2"},
		p(12, "3"),
	)}
	res := reconcileWith(raw, Context{Catalog: testCatalog("A")})

	require.Len(t, res.Features, 1)
	assert.Equal(t, at(12), res.Features[0].Time)
	assert.Equal(t, 2, res.Stats.InvalidTime)
}

func TestReconcileInvalidValuesAreNeverZero(t *testing.T) {
	raw := []models.RawObservation{obs("A", "NUCLEAR",
		p(1, "null"),
		p(2, `"n/a"`),
		p(3, `""`),
		p(4, "true"),
		p(5, `"12.5"`),
		p(6, "0"),
	)}

	dropped := reconcileWith(raw, Context{Catalog: testCatalog("A"), InvalidValues: config.InvalidValueDrop})
	require.Len(t, dropped.Features, 2)
	assert.Equal(t, 12.5, *dropped.Features[0].Power)
	assert.Equal(t, 0.0, *dropped.Features[1].Power)
	assert.Equal(t, 4, dropped.Stats.InvalidValue)

	flagged := reconcileWith(raw, Context{Catalog: testCatalog("A"), InvalidValues: config.InvalidValueNull})
	require.Len(t, flagged.Features, 6)
	for i := 0; i < 4; i++ {
		assert.Nil(t, flagged.Features[i].Power, "value %d must be flagged", i)
	}
	assert.Equal(t, 4, flagged.Stats.InvalidValue)
}

func TestReconcileDedupesWithinBatch(t *testing.T) {
	raw := []models.RawObservation{
		obs("A", "NUCLEAR", p(1, "1"), p(2, "2"), p(1, "9")),
		obs("A", "NUCLEAR", p(2, "7"), p(3, "3")),
	}
	res := reconcileWith(raw, Context{Catalog: testCatalog("A")})

	require.Len(t, res.Features, 3)
	assert.Equal(t, []float64{1, 2, 3}, powers(res.Features))
	assert.Equal(t, 2, res.Stats.Duplicates)
}

func TestReconcilePreservesInputOrder(t *testing.T) {
	raw := []models.RawObservation{
		obs("B", "NUCLEAR", p(5, "1"), p(3, "2")),
		obs("A", "NUCLEAR", p(4, "3")),
	}
	res := reconcileWith(raw, Context{Catalog: testCatalog("A", "B")})

	require.Len(t, res.Features, 3)
	assert.Equal(t, []float64{1, 2, 3}, powers(res.Features))
}

func TestReconcileStats(t *testing.T) {
	raw := []models.RawObservation{
		obs("A", "NUCLEAR", p(1, "1"), p(2, "2")),
		obs("B", "WIND", p(1, "1")),
		obs("Z", "NUCLEAR", p(1, "1")),
	}
	res := reconcileWith(raw, Context{
		Catalog:         testCatalog("A", "B"),
		Watermark:       models.Watermark{"A": at(1), "C": at(0)},
		ProductionTypes: []string{"NUCLEAR"},
	})

	assert.Equal(t, Stats{
		Observations:  3,
		Values:        4,
		CatalogSize:   2,
		WatermarkSize: 2,
		FilteredType:  1,
		Unresolved:    1,
		Stale:         1,
		Features:      1,
	}, res.Stats)
}

func TestReconcileIsIdempotent(t *testing.T) {
	raw := randomObservations(rand.New(rand.NewSource(1)), 40)
	rc := Context{Catalog: testCatalog(codes(10)...), ProductionTypes: []string{"NUCLEAR"}}

	first := reconcileWith(raw, rc)
	require.NotEmpty(t, first.Features)

	rc.Watermark = watermarkFrom(first.Features)
	second := reconcileWith(raw, rc)
	assert.Empty(t, second.Features)
}

func TestReconcileProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		raw := randomObservations(rng, 30)
		wm := models.Watermark{}
		for _, code := range codes(10) {
			if rng.Intn(2) == 0 {
				wm[code] = at(rng.Intn(24))
			}
		}
		filter := []string{"NUCLEAR", "HYDRO"}[:rng.Intn(3)]
		rc := Context{Catalog: testCatalog(codes(8)...), Watermark: wm, ProductionTypes: filter}

		res := reconcileWith(raw, rc)

		seen := map[string]bool{}
		for _, f := range res.Features {
			if mark, ok := wm[f.UnitKey]; ok {
				assert.True(t, f.Time.After(mark), "feature %s at %s not after watermark %s", f.UnitKey, f.Time, mark)
			}
			k := fmt.Sprintf("%s|%d", f.UnitKey, f.Time.UnixNano())
			assert.False(t, seen[k], "duplicate feature %s", k)
			seen[k] = true
			if len(filter) > 0 {
				assert.Contains(t, filter, f.ProductionType)
			}
		}
	}
}

func TestTransformsDoNotMutateInput(t *testing.T) {
	raw := []models.RawObservation{obs("A", "NUCLEAR", p(1, "1")), obs("B", "WIND", p(1, "1"))}
	rc := Context{Catalog: testCatalog("A"), ProductionTypes: []string{"NUCLEAR"}}

	in := NewBatch(raw, rc)
	filtered := FilterProductionTypes(in, rc)
	resolved := ResolveUnits(filtered, rc)

	assert.Len(t, in.Candidates, 2)
	assert.Len(t, filtered.Candidates, 1)
	assert.False(t, filtered.Candidates[0].Resolved)
	assert.True(t, resolved.Candidates[0].Resolved)
}

func TestObserversReceiveResult(t *testing.T) {
	var got []Result
	observer := ObserverFunc(func(_ context.Context, res Result) { got = append(got, res) })

	raw := []models.RawObservation{obs("A", "NUCLEAR", p(1, "1"))}
	res := New(observer, LogObserver{}).Reconcile(context.Background(), raw, Context{Catalog: testCatalog("A")})

	require.Len(t, got, 1)
	assert.Equal(t, res, got[0])
}

func TestCustomPipeline(t *testing.T) {
	raw := []models.RawObservation{obs("A", "WIND", p(1, "1"), p(1, "2"))}
	engine := NewWithTransforms([]Transform{ResolveUnits, EmitNewValues})
	res := engine.Reconcile(context.Background(), raw, Context{Catalog: testCatalog("A"), ProductionTypes: []string{"NUCLEAR"}})

	assert.Len(t, res.Features, 2, "filter and dedupe are not part of this pipeline")
}

func TestFuzzyCatalogFeaturesUseUnitKey(t *testing.T) {
	cat := catalog.New([]models.Unit{{Name: "Cruas 3", Geometry: models.NewPoint(44.6, 4.7)}}, config.MatchFuzzyName)
	raw := []models.RawObservation{{
		Unit:   models.RawUnit{Name: "CRUAS-3", ProductionType: "NUCLEAR"},
		Values: []models.RawValue{{EndDate: at(2).Format(time.RFC3339), Value: json.RawMessage("900")}},
	}}
	res := reconcileWith(raw, Context{Catalog: cat, Watermark: models.Watermark{"cruas 3": at(1)}})

	require.Len(t, res.Features, 1)
	assert.Equal(t, "cruas 3", res.Features[0].UnitKey)
	assert.Empty(t, res.Features[0].Code)
}

func TestCoerceValue(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"890", 890, true},
		{"-3.5", -3.5, true},
		{"0", 0, true},
		{`" 42 "`, 42, true},
		{"1e3", 1000, true},
		{"null", 0, false},
		{"", 0, false},
		{`""`, 0, false},
		{`"abc"`, 0, false},
		{`"NaN"`, 0, false},
		{`"Inf"`, 0, false},
		{"false", 0, false},
		{"[1]", 0, false},
	}
	for _, tc := range cases {
		got, ok := CoerceValue(json.RawMessage(tc.raw))
		assert.Equal(t, tc.ok, ok, "raw %q", tc.raw)
		if tc.ok {
			assert.Equal(t, tc.want, got, "raw %q", tc.raw)
		}
	}
}

func powers(features []models.Feature) []float64 {
	out := make([]float64, 0, len(features))
	for _, f := range features {
		out = append(out, *f.Power)
	}
	return out
}

func codes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("U%02d", i)
	}
	return out
}

func randomObservations(rng *rand.Rand, n int) []models.RawObservation {
	types := []string{"NUCLEAR", "HYDRO", "WIND"}
	all := codes(10)
	raw := make([]models.RawObservation, 0, n)
	for i := 0; i < n; i++ {
		var pairs []pair
		for j := rng.Intn(6); j >= 0; j-- {
			pairs = append(pairs, p(rng.Intn(24), fmt.Sprintf("%d", rng.Intn(1000))))
		}
		raw = append(raw, obs(all[rng.Intn(len(all))], types[rng.Intn(len(types))], pairs...))
	}
	return raw
}

func watermarkFrom(features []models.Feature) models.Watermark {
	wm := models.Watermark{}
	for _, f := range features {
		if f.Power == nil {
			continue
		}
		if cur, ok := wm[f.UnitKey]; !ok || f.Time.After(cur) {
			wm[f.UnitKey] = f.Time
		}
	}
	return wm
}
