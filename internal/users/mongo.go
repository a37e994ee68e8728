package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pricewatch/internal/config"
	apperrors "pricewatch/internal/errors"
	"pricewatch/internal/infrastructure"
)

// userDocument mirrors the stored account; only email and name are projected
type userDocument struct {
	ID    primitive.ObjectID `bson:"_id"`
	Email string             `bson:"email"`
	Name  string             `bson:"name,omitempty"`
}

// MongoDirectory reads accounts from the users collection
type MongoDirectory struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	logger  *slog.Logger
}

// ConnectMongo opens a client from cfg and verifies it with a ping
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, apperrors.NewConfigError("mongo uri is required", nil)
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetServerSelectionTimeout(cfg.Timeout).
		SetAppName(config.AppName)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// NewMongoDirectory connects to MongoDB and returns a directory over the
// configured users collection.
func NewMongoDirectory(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*MongoDirectory, error) {
	client, err := ConnectMongo(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d := NewMongoDirectoryFromCollection(client.Database(cfg.Database).Collection(cfg.UsersCollection), cfg.Timeout, logger)
	d.client = client
	d.logger.Info("user directory connected",
		slog.String("database", cfg.Database),
		slog.String("collection", cfg.UsersCollection))
	return d, nil
}

// NewMongoDirectoryFromCollection wraps an existing collection
func NewMongoDirectoryFromCollection(coll *mongo.Collection, timeout time.Duration, logger *slog.Logger) *MongoDirectory {
	return &MongoDirectory{
		coll:    coll,
		timeout: timeout,
		logger:  infrastructure.WithComponent(logger, "users.mongo"),
	}
}

// FindByID looks up an account by its hex ObjectID. Ids that are not valid
// ObjectIDs can never match and report ErrUserNotFound.
func (d *MongoDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrUserNotFound
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	opts := options.FindOne().SetProjection(bson.D{{Key: "email", Value: 1}, {Key: "name", Value: 1}})

	var doc userDocument
	err = d.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, apperrors.NewStorageError("user lookup failed", err)
	}

	return &User{
		ID:    doc.ID.Hex(),
		Email: doc.Email,
		Name:  doc.Name,
	}, nil
}

// Close disconnects the client when the directory owns it
func (d *MongoDirectory) Close(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Disconnect(ctx)
}

// Ping checks that the server is reachable. A directory built from a bare
// collection has no client to ping.
func (d *MongoDirectory) Ping(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Ping(ctx, nil)
}
