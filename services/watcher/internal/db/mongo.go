package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

const (
	defaultMongoDatabase = "rte"
	generationCollection = "rte-generation"
	unitsCollection      = "rte-units"
	locksCollection      = "rte-locks"
	ttlIndexName         = "time_ttl"
	featureDocumentType  = "Feature"

	// lockTTL bounds how long a crashed run can keep the lock document.
	lockTTL = time.Hour
)

// Server error codes for createIndexes option conflicts.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// Mongo stores units and generation as GeoJSON documents. Expiry is handled
// by a TTL index on the time field.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	ttl    time.Duration
}

// NewMongo connects a MongoDB client. The database name is taken from the URL
// path and defaults to "rte".
func NewMongo(ctx context.Context, uri string, opts Options) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Mongo{
		client: client,
		db:     client.Database(databaseName(uri)),
		ttl:    opts.TTL,
	}, nil
}

type unitDocument struct {
	Type       string          `bson:"type"`
	Geometry   models.Geometry `bson:"geometry"`
	Properties bson.M          `bson:"properties"`
}

type featureDocument struct {
	Type       string            `bson:"type"`
	Time       time.Time         `bson:"time"`
	Geometry   models.Geometry   `bson:"geometry"`
	Properties featureProperties `bson:"properties"`
}

type featureProperties struct {
	UnitKey        string   `bson:"unitKey"`
	EICCode        string   `bson:"eicCode,omitempty"`
	Name           string   `bson:"name"`
	ProductionType string   `bson:"productionType,omitempty"`
	Power          *float64 `bson:"power,omitempty"`
}

type watermarkRow struct {
	Key  string    `bson:"_id"`
	Time time.Time `bson:"time"`
}

// EnsureSchema creates the collection indices, including the TTL index on
// generation time. An existing TTL index with a different expiry is updated
// in place.
func (m *Mongo) EnsureSchema(ctx context.Context) error {
	generation := m.db.Collection(generationCollection)
	_, err := generation.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "properties.unitKey", Value: 1}, {Key: "time", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unit_time_unique"),
		},
		{Keys: bson.D{{Key: "properties.eicCode", Value: 1}}},
		{Keys: bson.D{{Key: "properties.power", Value: 1}}},
		{Keys: bson.D{{Key: "properties.unitKey", Value: 1}, {Key: "time", Value: -1}}},
		{Keys: bson.D{{Key: "properties.unitKey", Value: 1}, {Key: "properties.power", Value: 1}, {Key: "time", Value: -1}}},
		{Keys: bson.D{{Key: "geometry", Value: "2dsphere"}}},
	})
	if err != nil {
		return fmt.Errorf("create generation indexes: %w", err)
	}
	if err := m.ensureTTLIndex(ctx); err != nil {
		return err
	}

	_, err = m.db.Collection(unitsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "properties.eicCode", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("eic_code_unique"),
		},
		{Keys: bson.D{{Key: "geometry", Value: "2dsphere"}}},
	})
	if err != nil {
		return fmt.Errorf("create unit indexes: %w", err)
	}

	_, err = m.db.Collection(locksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	})
	if err != nil {
		return fmt.Errorf("create lock indexes: %w", err)
	}
	return nil
}

func (m *Mongo) ensureTTLIndex(ctx context.Context) error {
	if m.ttl <= 0 {
		return nil
	}
	secs := int32(m.ttl / time.Second)
	_, err := m.db.Collection(generationCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "time", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(secs).SetName(ttlIndexName),
	})
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) || (cmdErr.Code != codeIndexOptionsConflict && cmdErr.Code != codeIndexKeySpecsConflict) {
		return fmt.Errorf("create ttl index: %w", err)
	}
	res := m.db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: generationCollection},
		{Key: "index", Value: bson.D{
			{Key: "name", Value: ttlIndexName},
			{Key: "expireAfterSeconds", Value: secs},
		}},
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("update ttl index: %w", err)
	}
	return nil
}

// LoadUnits loads the unit catalog.
func (m *Mongo) LoadUnits(ctx context.Context) ([]models.Unit, error) {
	cur, err := m.db.Collection(unitsCollection).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "properties.eicCode", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	var docs []unitDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode units: %w", err)
	}

	units := make([]models.Unit, 0, len(docs))
	for _, doc := range docs {
		units = append(units, unitFromDocument(doc))
	}
	return units, nil
}

// UpsertUnits replaces unit documents keyed by EIC code.
func (m *Mongo) UpsertUnits(ctx context.Context, units []models.Unit, chunkSize int) (int, error) {
	coll := m.db.Collection(unitsCollection)
	written := 0
	for _, chunk := range Chunk(units, chunkSize) {
		writes := make([]mongo.WriteModel, 0, len(chunk))
		for _, u := range chunk {
			writes = append(writes, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"properties.eicCode": u.Code}).
				SetReplacement(unitToDocument(u)).
				SetUpsert(true))
		}
		if _, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
			return written, fmt.Errorf("upsert units: %w", err)
		}
		written += len(chunk)
	}
	return written, nil
}

// FetchWatermark aggregates the per-unit watermark.
func (m *Mongo) FetchWatermark(ctx context.Context, since time.Time, strategy config.WatermarkStrategy) (models.Watermark, error) {
	cur, err := m.db.Collection(generationCollection).Aggregate(ctx,
		watermarkPipeline(strategy, since), options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("fetch watermark: %w", err)
	}
	var rows []watermarkRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode watermark: %w", err)
	}

	wm := make(models.Watermark, len(rows))
	for _, r := range rows {
		wm[r.Key] = r.Time.UTC()
	}
	return wm, nil
}

// UpsertFeatures replaces feature documents keyed by (unit key, time).
func (m *Mongo) UpsertFeatures(ctx context.Context, features []models.Feature, chunkSize int) (int, error) {
	coll := m.db.Collection(generationCollection)
	written := 0
	for _, chunk := range Chunk(features, chunkSize) {
		writes := make([]mongo.WriteModel, 0, len(chunk))
		for _, f := range chunk {
			writes = append(writes, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"properties.unitKey": f.UnitKey, "time": f.Time.UTC()}).
				SetReplacement(featureToDocument(f)).
				SetUpsert(true))
		}
		if _, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
			return written, fmt.Errorf("upsert generation: %w", err)
		}
		written += len(chunk)
	}
	return written, nil
}

// PurgeExpired is a no-op: the TTL index expires documents.
func (m *Mongo) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// AcquireRunLock inserts a lock document whose _id is the lock name. The
// document expires after lockTTL if the run never releases it.
func (m *Mongo) AcquireRunLock(ctx context.Context, name string) (ReleaseFunc, error) {
	coll := m.db.Collection(locksCollection)
	now := time.Now().UTC()
	_, err := coll.InsertOne(ctx, bson.M{
		"_id":        name,
		"acquiredAt": now,
		"expiresAt":  now.Add(lockTTL),
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}

	return func(ctx context.Context) error {
		if _, err := coll.DeleteOne(ctx, bson.M{"_id": name}); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func watermarkPipeline(strategy config.WatermarkStrategy, since time.Time) mongo.Pipeline {
	match := bson.D{{Key: "$match", Value: bson.D{
		{Key: "properties.power", Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: nil}}},
		{Key: "time", Value: bson.D{{Key: "$gte", Value: since.UTC()}}},
	}}}

	if strategy == config.WatermarkLatest {
		return mongo.Pipeline{
			match,
			{{Key: "$sort", Value: bson.D{{Key: "time", Value: -1}}}},
			{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$properties.unitKey"},
				{Key: "time", Value: bson.D{{Key: "$first", Value: "$time"}}},
			}}},
		}
	}
	return mongo.Pipeline{
		match,
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$properties.unitKey"},
			{Key: "time", Value: bson.D{{Key: "$max", Value: "$time"}}},
		}}},
	}
}

func featureToDocument(f models.Feature) featureDocument {
	return featureDocument{
		Type:     featureDocumentType,
		Time:     f.Time.UTC(),
		Geometry: f.Geometry,
		Properties: featureProperties{
			UnitKey:        f.UnitKey,
			EICCode:        f.Code,
			Name:           f.Name,
			ProductionType: f.ProductionType,
			Power:          f.Power,
		},
	}
}

func unitToDocument(u models.Unit) unitDocument {
	props := bson.M{}
	for k, v := range u.Properties {
		props[k] = v
	}
	props["eicCode"] = u.Code
	props["name"] = u.Name
	if u.PlantID != "" {
		props["plantId"] = u.PlantID
	}
	return unitDocument{Type: featureDocumentType, Geometry: u.Geometry, Properties: props}
}

func unitFromDocument(doc unitDocument) models.Unit {
	u := models.Unit{Geometry: doc.Geometry, Properties: map[string]any{}}
	for k, v := range doc.Properties {
		switch k {
		case "eicCode":
			u.Code, _ = v.(string)
		case "name":
			u.Name, _ = v.(string)
		case "plantId":
			u.PlantID, _ = v.(string)
		default:
			u.Properties[k] = v
		}
	}
	return u
}

func databaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}
