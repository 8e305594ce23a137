package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Mundokiir/email-reports/pkg/common"
	"github.com/Mundokiir/email-reports/pkg/config"
	"github.com/Mundokiir/email-reports/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB represents a MongoDB connection
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	log      *logger.Logger
}

// BuildURI builds the connection string for the configured addressing mode.
// Reads always go to a secondary.
func BuildURI(cfg config.DatabaseConfig) string {
	user := url.UserPassword(cfg.Username, cfg.Password).String()

	if cfg.SRVMode {
		return fmt.Sprintf("mongodb+srv://%s@%s/?readPreference=secondary", user, cfg.Host)
	}
	return fmt.Sprintf("mongodb://%s@%s:%s/?replicaSet=%s&readPreference=secondary",
		user, cfg.Host, cfg.Port, url.QueryEscape(cfg.ClusterName))
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(ctx context.Context, connectionString, databaseName string, log *logger.Logger) (*MongoDB, error) {
	// Set client options
	clientOptions := options.Client().
		ApplyURI(connectionString).
		SetReadPreference(readpref.Secondary()).
		SetConnectTimeout(30 * time.Second).
		SetServerSelectionTimeout(30 * time.Second)

	// Connect to MongoDB
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping a secondary to verify connection
	if err := client.Ping(ctx, readpref.Secondary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDB{
		client:   client,
		database: client.Database(databaseName),
		log:      log,
	}, nil
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Find runs one find against a collection and materializes every result
// in cursor order
func (m *MongoDB) Find(ctx context.Context, collectionName string, filter, projection bson.D) ([]common.Document, error) {
	collection := m.database.Collection(collectionName)

	m.log.Debugf("Running find on %s.%s with filter %v", m.database.Name(), collectionName, filter)
	cursor, err := collection.Find(ctx, filter, options.Find().SetProjection(projection))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collectionName, err)
	}
	defer cursor.Close(ctx)

	var docs []common.Document
	for cursor.Next(ctx) {
		doc, err := DecodeDocument(cursor.Current)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document from %s: %w", collectionName, err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results from %s: %w", collectionName, err)
	}

	return docs, nil
}

// DecodeDocument decodes one raw result. Decoding into bson.D keeps
// embedded documents as ordered primitive.D values.
func DecodeDocument(raw bson.Raw) (common.Document, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return common.FromD(d), nil
}

// Filter builds an equality filter with keys in sorted order
func Filter(cfg *config.Config) bson.D {
	filter := bson.D{}
	for _, field := range cfg.QueryFields() {
		filter = append(filter, bson.E{Key: field, Value: cfg.Query[field]})
	}
	return filter
}

// Projection builds the projection document with keys in sorted order
func Projection(cfg *config.Config) bson.D {
	projection := bson.D{}
	for _, field := range cfg.ProjectionFields() {
		projection = append(projection, bson.E{Key: field, Value: cfg.Projection[field]})
	}
	return projection
}
