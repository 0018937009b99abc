package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

func stageName(stage bson.D) string {
	if len(stage) == 0 {
		return ""
	}
	return stage[0].Key
}

func TestWatermarkPipelineMax(t *testing.T) {
	since := time.Date(2024, 3, 9, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	p := watermarkPipeline(config.WatermarkMax, since)
	require.Len(t, p, 2)
	assert.Equal(t, "$match", stageName(p[0]))
	assert.Equal(t, "$group", stageName(p[1]))

	match := p[0][0].Value.(bson.D)
	timeCond := match[1].Value.(bson.D)
	assert.Equal(t, since.UTC(), timeCond[0].Value)

	group := p[1][0].Value.(bson.D)
	assert.Equal(t, "$properties.unitKey", group[0].Value)
	assert.Equal(t, bson.D{{Key: "$max", Value: "$time"}}, group[1].Value)
}

func TestWatermarkPipelineLatest(t *testing.T) {
	p := watermarkPipeline(config.WatermarkLatest, time.Now())
	require.Len(t, p, 3)
	assert.Equal(t, "$match", stageName(p[0]))
	assert.Equal(t, "$sort", stageName(p[1]))
	assert.Equal(t, "$group", stageName(p[2]))

	group := p[2][0].Value.(bson.D)
	assert.Equal(t, bson.D{{Key: "$first", Value: "$time"}}, group[1].Value)
}

func TestFeatureToDocument(t *testing.T) {
	power := 910.0
	ts := time.Date(2024, 3, 10, 11, 0, 0, 0, time.FixedZone("CET", 3600))
	doc := featureToDocument(models.Feature{
		UnitKey:        "17W100P100P0082B",
		Code:           "17W100P100P0082B",
		Name:           "BLAYAIS 1",
		ProductionType: "NUCLEAR",
		Geometry:       models.NewPoint(45.25, -0.69),
		Time:           ts,
		Power:          &power,
	})

	assert.Equal(t, "Feature", doc.Type)
	assert.Equal(t, ts.UTC(), doc.Time)
	assert.Equal(t, []float64{-0.69, 45.25}, doc.Geometry.Coordinates)
	assert.Equal(t, "17W100P100P0082B", doc.Properties.UnitKey)
	require.NotNil(t, doc.Properties.Power)
	assert.Equal(t, 910.0, *doc.Properties.Power)

	raw, err := bson.Marshal(featureToDocument(models.Feature{UnitKey: "k", Time: ts}))
	require.NoError(t, err)
	var decoded bson.M
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	props := decoded["properties"].(bson.M)
	_, hasPower := props["power"]
	assert.False(t, hasPower, "a nil power is stored as a missing field")
}

func TestUnitDocumentRoundTrip(t *testing.T) {
	unit := models.Unit{
		Code:       "17W100P100P0082B",
		Name:       "BLAYAIS 1",
		PlantID:    "blayais",
		Geometry:   models.NewPoint(45.25, -0.69),
		Properties: map[string]any{"capacity_MW": 910.0},
	}

	doc := unitToDocument(unit)
	assert.Equal(t, "17W100P100P0082B", doc.Properties["eicCode"])
	assert.Equal(t, "blayais", doc.Properties["plantId"])

	back := unitFromDocument(doc)
	assert.Equal(t, unit, back)
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "energy", databaseName("mongodb://localhost:27017/energy?authSource=admin"))
	assert.Equal(t, "rte", databaseName("mongodb://localhost:27017"))
	assert.Equal(t, "rte", databaseName("mongodb://localhost:27017/"))
}
