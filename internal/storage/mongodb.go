package storage

import (
	"context"
	"fmt"
	"time"

	"b2monitor/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoDB struct {
	client  *mongo.Client
	events  *mongo.Collection
	stats   *mongo.Collection
	buckets *mongo.Collection
	logger  *zap.Logger
}

func NewMongoDB(uri, database string, logger *zap.Logger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetSocketTimeout(30 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to MongoDB",
		zap.String("database", database),
	)

	db := client.Database(database)
	m := &MongoDB{
		client:  client,
		events:  db.Collection("webhook_events"),
		stats:   db.Collection("webhook_statistics"),
		buckets: db.Collection("bucket_configurations"),
		logger:  logger,
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	// The unique event_id index backs the system-wide idempotency
	// contract for at-least-once redeliveries.
	eventIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "bucket_name", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "received_at", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "bucket_name", Value: 1},
				{Key: "event_type.raw", Value: 1},
			},
		},
	}
	if _, err := m.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return err
	}

	statIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "date", Value: 1},
				{Key: "bucket_name", Value: 1},
				{Key: "event_type", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := m.stats.Indexes().CreateMany(ctx, statIndexes); err != nil {
		return err
	}

	bucketIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "bucket_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := m.buckets.Indexes().CreateMany(ctx, bucketIndexes)
	return err
}

// UpsertEvents writes a batch idempotently: duplicate deliveries of
// the same event_id collapse to one stored row. Both the flush worker
// and the degraded direct-write path route through here.
func (m *MongoDB) UpsertEvents(ctx context.Context, batch []models.WebhookEvent) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	ops := make([]mongo.WriteModel, 0, len(batch))
	for _, ev := range batch {
		ops = append(ops, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"event_id": ev.EventID}).
			SetUpdate(bson.M{"$setOnInsert": ev}).
			SetUpsert(true))
	}

	result, err := m.events.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(false))
	if err != nil {
		m.logger.Error("Bulk event upsert failed",
			zap.Error(err),
			zap.Int("batch_size", len(batch)))
		return 0, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	return result.UpsertedCount, nil
}

func (m *MongoDB) QueryEvents(ctx context.Context, filter models.EventFilter) ([]models.WebhookEvent, error) {
	query := bson.M{}
	if filter.BucketName != "" {
		query["bucket_name"] = filter.BucketName
	}
	if filter.EventType != "" {
		query["event_type.raw"] = filter.EventType
	}
	if !filter.Since.IsZero() {
		query["received_at"] = bson.M{"$gte": filter.Since}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "received_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := m.events.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	defer cursor.Close(ctx)

	var events []models.WebhookEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	return events, nil
}

func (m *MongoDB) CountEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := bson.M{}
	if filter.BucketName != "" {
		query["bucket_name"] = filter.BucketName
	}
	if !filter.Since.IsZero() {
		query["received_at"] = bson.M{"$gte": filter.Since}
	}
	return m.events.CountDocuments(ctx, query)
}

// IncrementStatistics applies per-(date, bucket, type) counter deltas
// as $inc upserts, so rollups survive both batch flushes and degraded
// single writes.
func (m *MongoDB) IncrementStatistics(ctx context.Context, counts map[models.DailyStatistic]int64) error {
	if len(counts) == 0 {
		return nil
	}
	ops := make([]mongo.WriteModel, 0, len(counts))
	for key, count := range counts {
		ops = append(ops, mongo.NewUpdateOneModel().
			SetFilter(bson.M{
				"date":        key.Date,
				"bucket_name": key.BucketName,
				"event_type":  key.EventType,
			}).
			SetUpdate(bson.M{"$inc": bson.M{"event_count": count}}).
			SetUpsert(true))
	}
	if _, err := m.stats.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	return nil
}

func (m *MongoDB) GetStatistics(ctx context.Context, days int) ([]models.DailyStatistic, error) {
	if days <= 0 {
		days = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	cursor, err := m.stats.Find(ctx, bson.M{"date": bson.M{"$gte": cutoff}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	defer cursor.Close(ctx)

	var stats []models.DailyStatistic
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	return stats, nil
}

func (m *MongoDB) GetBucketConfig(ctx context.Context, bucketName string) (*models.BucketWebhookConfig, error) {
	var cfg models.BucketWebhookConfig
	err := m.buckets.FindOne(ctx, bson.M{"bucket_name": bucketName}).Decode(&cfg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	return &cfg, nil
}

// SaveBucketConfig exists for bootstrap and tests; the configuration
// CRUD lives in a separate subsystem.
func (m *MongoDB) SaveBucketConfig(ctx context.Context, cfg models.BucketWebhookConfig) error {
	_, err := m.buckets.ReplaceOne(ctx,
		bson.M{"bucket_name": cfg.BucketName},
		cfg,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	return nil
}

func (m *MongoDB) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := m.events.DeleteMany(ctx, bson.M{"received_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	// Old rollup rows go with them.
	cutoffDate := cutoff.UTC().Format("2006-01-02")
	if _, err := m.stats.DeleteMany(ctx, bson.M{"date": bson.M{"$lt": cutoffDate}}); err != nil {
		m.logger.Warn("Failed to prune old statistics", zap.Error(err))
	}
	return result.DeletedCount, nil
}

func (m *MongoDB) DeleteBucketEvents(ctx context.Context, bucketName string) (int64, error) {
	result, err := m.events.DeleteMany(ctx, bson.M{"bucket_name": bucketName})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	if _, err := m.stats.DeleteMany(ctx, bson.M{"bucket_name": bucketName}); err != nil {
		m.logger.Warn("Failed to prune bucket statistics",
			zap.Error(err),
			zap.String("bucket", bucketName))
	}
	return result.DeletedCount, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
