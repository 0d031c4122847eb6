// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package mongodb implements the exchange journal using MongoDB
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/finvix/dbna-phase4/internal/storage"
)

// DefaultCollection holds the exchange records unless Config names another
const DefaultCollection = "exchanges"

// Journal implements storage.Journal using MongoDB
type Journal struct {
	client    *mongo.Client
	exchanges *mongo.Collection
	now       func() time.Time
}

// Config holds MongoDB connection settings
type Config struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

var _ storage.Journal = (*Journal)(nil)

// NewJournal connects to MongoDB and prepares the exchange collection
func NewJournal(ctx context.Context, cfg *Config) (*Journal, error) {
	if cfg == nil || cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongodb journal needs a uri and a database")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	j := &Journal{
		client:    client,
		exchanges: client.Database(cfg.Database).Collection(collection),
		now:       func() time.Time { return time.Now().UTC() },
	}

	if err := j.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return j, nil
}

func (j *Journal) createIndexes(ctx context.Context) error {
	_, err := j.exchanges.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "direction", Value: 1}, {Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "direction", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return err
}

// Ping verifies database connectivity
func (j *Journal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (j *Journal) Close(ctx context.Context) error {
	return j.client.Disconnect(ctx)
}

// RecordExchange upserts ex. The created_at of an existing record is only
// written on insert.
func (j *Journal) RecordExchange(ctx context.Context, ex *storage.Exchange) error {
	if err := storage.Prepare(ex, j.now()); err != nil {
		return err
	}

	update, err := upsertDocument(ex)
	if err != nil {
		return err
	}

	_, err = j.exchanges.UpdateOne(ctx, bson.M{"_id": ex.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("recording exchange %s: %w", ex.ID, err)
	}
	return nil
}

func (j *Journal) GetExchange(ctx context.Context, direction storage.Direction, messageID string) (*storage.Exchange, error) {
	var ex storage.Exchange
	err := j.exchanges.FindOne(ctx, bson.M{"_id": storage.RecordID(direction, messageID)}).Decode(&ex)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s exchange %s", storage.ErrNotFound, direction, messageID)
	}
	if err != nil {
		return nil, err
	}
	return &ex, nil
}

func (j *Journal) ListExchanges(ctx context.Context, filter *storage.ExchangeFilter) ([]*storage.Exchange, error) {
	cursor, err := j.exchanges.Find(ctx, exchangeQuery(filter), findOptions(filter))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var exchanges []*storage.Exchange
	if err := cursor.All(ctx, &exchanges); err != nil {
		return nil, err
	}
	return exchanges, nil
}

// upsertDocument splits ex into the fields replaced on every write and the
// ones only set on insert
func upsertDocument(ex *storage.Exchange) (bson.M, error) {
	raw, err := bson.Marshal(ex)
	if err != nil {
		return nil, fmt.Errorf("encoding exchange: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encoding exchange: %w", err)
	}
	delete(fields, "_id")
	delete(fields, "created_at")

	return bson.M{
		"$set":         fields,
		"$setOnInsert": bson.M{"created_at": ex.CreatedAt},
	}, nil
}

func exchangeQuery(filter *storage.ExchangeFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.Direction != "" {
		query["direction"] = filter.Direction
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Since != nil {
		query["created_at"] = bson.M{"$gte": *filter.Since}
	}
	return query
}

func findOptions(filter *storage.ExchangeFilter) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter != nil && filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return opts
}
