package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
)

// MongoEmissionStore keeps an audit trail of every emitted metric
// record in a time-series collection and serves the aggregates API.
type MongoEmissionStore struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
}

func NewMongoConnection(uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = client.Ping(ctx, readpref.Primary())

	return client, nil
}

func NewMongoEmissionStore(client *mongo.Client, database string) (*MongoEmissionStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db := client.Database(database)

	tsOptions := options.CreateCollection().SetTimeSeriesOptions(
		options.TimeSeries().
			SetTimeField("timestamp").
			SetMetaField("device_id").
			SetGranularity("seconds"),
	)

	db.CreateCollection(ctx, "detection_metrics", tsOptions)
	collection := db.Collection("detection_metrics")

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "device_id", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "class_name", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
	}
	collection.Indexes().CreateMany(ctx, indexModels)

	return &MongoEmissionStore{
		client:     client,
		db:         db,
		collection: collection,
	}, nil
}

func (m *MongoEmissionStore) InsertBatch(ctx context.Context, records []domain.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}

	opts := options.InsertMany().SetOrdered(false)
	_, err := m.collection.InsertMany(ctx, docs, opts)
	return err
}

func (m *MongoEmissionStore) GetAggregates(ctx context.Context, query domain.AggregateQuery) ([]domain.AggregateResult, error) {
	pipeline := m.buildAggregationPipeline(query)

	cursor, err := m.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate emissions: %w", err)
	}
	defer cursor.Close(ctx)

	var results []domain.AggregateResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode aggregates: %w", err)
	}

	return results, nil
}

func (m *MongoEmissionStore) buildAggregationPipeline(query domain.AggregateQuery) []bson.M {
	matchStage := bson.M{
		"timestamp": bson.M{
			"$gte": query.StartTime,
			"$lte": query.EndTime,
		},
	}

	if query.DeviceID != "" {
		matchStage["device_id"] = query.DeviceID
	}
	if query.ClassName != "" {
		matchStage["class_name"] = query.ClassName
	}

	var dateFormat string
	switch query.Granularity {
	case "minute":
		dateFormat = "%Y-%m-%d-%H-%M"
	case "hour":
		dateFormat = "%Y-%m-%d-%H"
	case "day":
		dateFormat = "%Y-%m-%d"
	default:
		dateFormat = "%Y-%m-%d-%H"
	}

	groupStage := bson.M{
		"_id": bson.M{
			"device_id":  "$device_id",
			"class_name": "$class_name",
			"time_window": bson.M{
				"$dateToString": bson.M{
					"format":   dateFormat,
					"date":     "$timestamp",
					"timezone": "UTC",
				},
			},
		},
		"count":     bson.M{"$sum": 1},
		"avg_score": bson.M{"$avg": "$score"},
		"min_score": bson.M{"$min": "$score"},
		"max_score": bson.M{"$max": "$score"},
	}

	projectStage := bson.M{
		"device_id":  "$_id.device_id",
		"class_name": "$_id.class_name",
		"time_window": bson.M{
			"$dateFromString": bson.M{
				"dateString": "$_id.time_window",
				"format":     dateFormat,
				"timezone":   "UTC",
			},
		},
		"count":     1,
		"avg_score": 1,
		"min_score": 1,
		"max_score": 1,
	}

	return []bson.M{
		{"$match": matchStage},
		{"$group": groupStage},
		{"$project": projectStage},
		{"$sort": bson.M{"time_window": 1}},
	}
}

func (m *MongoEmissionStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
